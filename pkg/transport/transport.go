// Package transport provides the secure transport adapter: a uniform
// read/write/handshake/close surface over both the plain HTTP listener's
// net.Conn and the HTTPS listener's *tls.Conn.
//
// The event loop only ever attempts I/O after the readiness registry has
// reported a descriptor ready, and every attempt must be a single
// non-blocking try: either it moves bytes immediately or it reports
// "would block" without stalling the loop. Go's net.Conn has no native
// non-blocking mode, so each Read/Write/Handshake call here is wrapped in a
// very short deadline (constants.PollAttemptTimeout) and a timeout is
// translated back into the would-block signal the original select()-based
// core got from EAGAIN.
package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/liso-project/liso/pkg/constants"
	lisoerrors "github.com/liso-project/liso/pkg/errors"
)

// Result classifies the outcome of a single non-blocking I/O attempt.
type Result int

const (
	// Done means n bytes were moved; the caller may try again immediately
	// if it still has work, but nothing more is promised this iteration.
	Done Result = iota
	// WouldBlock means no bytes were moved and the caller should wait for
	// the readiness registry to report this descriptor ready again.
	WouldBlock
	// Closed means the peer ended the connection cleanly.
	Closed
	// Fatal means an unrecoverable error occurred; the connection must be
	// torn down.
	Fatal
)

// Transport wraps a single accepted connection, either plaintext or TLS, and
// exposes a single blocking-free Read/Write/Handshake contract.
type Transport struct {
	// raw is the originally accepted socket; used only to obtain the file
	// descriptor for the readiness registry, since *tls.Conn does not
	// itself implement syscall.Conn.
	raw net.Conn
	// io is what Read/Write actually go through: raw itself for plaintext,
	// or a *tls.Conn wrapping raw for HTTPS.
	io      net.Conn
	tlsConn *tls.Conn
	shaking bool
	addr    string
}

// NewPlain wraps a plaintext net.Conn (the HTTP listener's accepted socket).
func NewPlain(conn net.Conn) *Transport {
	return &Transport{raw: conn, io: conn, addr: conn.RemoteAddr().String()}
}

// NewTLS wraps conn in a server-side TLS connection using cfg. The
// handshake is not performed here: call Handshake repeatedly from the event
// loop until it reports Done, exactly like Read/Write.
func NewTLS(conn net.Conn, cfg *tls.Config) *Transport {
	tlsConn := tls.Server(conn, cfg)
	return &Transport{raw: conn, io: tlsConn, tlsConn: tlsConn, shaking: true, addr: conn.RemoteAddr().String()}
}

// Addr returns the remote address of the underlying connection, for logging.
func (t *Transport) Addr() string { return t.addr }

// Fd returns the raw file descriptor backing this connection, for
// registration with the readiness registry.
func (t *Transport) Fd() (int, error) {
	sc, ok := t.raw.(syscall.Conn)
	if !ok {
		return -1, lisoerrors.NewTransportError("fd", t.addr, errNotSyscallConn)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, lisoerrors.NewTransportError("fd", t.addr, err)
	}
	var fd int
	ctrlErr := rc.Control(func(s uintptr) { fd = int(s) })
	if ctrlErr != nil {
		return -1, lisoerrors.NewTransportError("fd", t.addr, ctrlErr)
	}
	return fd, nil
}

var errNotSyscallConn = errors.New("connection does not expose a raw file descriptor")

// IsTLS reports whether this transport wraps a TLS connection.
func (t *Transport) IsTLS() bool { return t.tlsConn != nil }

// Handshake drives the TLS handshake one non-blocking attempt at a time. For
// plaintext transports it always returns Done immediately. Call it from the
// event loop whenever the descriptor is read-or-write ready until it
// reports something other than WouldBlock.
func (t *Transport) Handshake() Result {
	if !t.shaking {
		return Done
	}
	deadline := time.Now().Add(constants.PollAttemptTimeout)
	_ = t.tlsConn.SetDeadline(deadline)
	err := t.tlsConn.Handshake()
	_ = t.tlsConn.SetDeadline(time.Time{})
	result := classify(err)
	if result == Done {
		t.shaking = false
	}
	return result
}

// Read attempts a single non-blocking read into p, returning the number of
// bytes read and the outcome.
func (t *Transport) Read(p []byte) (int, Result) {
	deadline := time.Now().Add(constants.PollAttemptTimeout)
	_ = t.io.SetReadDeadline(deadline)
	n, err := t.io.Read(p)
	_ = t.io.SetReadDeadline(time.Time{})
	if n > 0 {
		return n, Done
	}
	return 0, classify(err)
}

// Write attempts a single non-blocking write of p, returning the number of
// bytes written and the outcome.
func (t *Transport) Write(p []byte) (int, Result) {
	deadline := time.Now().Add(constants.PollAttemptTimeout)
	_ = t.io.SetWriteDeadline(deadline)
	n, err := t.io.Write(p)
	_ = t.io.SetWriteDeadline(time.Time{})
	if n > 0 {
		return n, Done
	}
	return 0, classify(err)
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	return t.io.Close()
}

func classify(err error) Result {
	if err == nil {
		return Done
	}
	if err == io.EOF {
		return Closed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WouldBlock
	}
	return Fatal
}
