// Package constants defines magic numbers and default values used throughout liso.
package constants

import "time"

// Buffer sizing (dynamic byte buffer grow/compaction rule).
const (
	// BUFSIZE is the initial buffer capacity and the pipe relay staging size.
	BUFSIZE = 1024

	// MaxLineLen bounds a single request-line/header-line before readline
	// reports "too long" and the request is failed with 400.
	MaxLineLen = 8192

	// MaxURILen is the maximum accepted request-URI length.
	MaxURILen = 8192
)

// Server identity strings echoed in responses and the CGI environment.
const (
	ServerName  = "Liso/1.0"
	HTTPVersion = "HTTP/1.1"
)

// Listener configuration.
const (
	ListenBacklog = 1024
)

// PollAttemptTimeout is the deadline used to turn a blocking Read/Write/
// Handshake call on a net.Conn into a single non-blocking attempt: the
// registry has already told the caller the fd is ready, so this only
// guards against the transport lying about readiness.
const PollAttemptTimeout = 50 * time.Millisecond

// ShutdownGrace is a two-second drain bound for a graceful stop. The event
// loop's shutdown does not use it: remaining connections are destroyed
// without waiting for queued output to drain.
const ShutdownGrace = 2 * time.Second
