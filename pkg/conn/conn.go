// Package conn defines the per-client connection object: the state machine
// status, the pending request, the in/out buffers, and the small set of
// line- and header-oriented helpers the HTTP parser and request handlers
// build on.
//
// Grounded on original_source/src/server.h's connection struct and
// src/http_parser.c's readline/header helpers, re-expressed over the
// dynamic buffer.Buffer and transport.Transport abstractions.
package conn

import (
	"fmt"
	"strings"

	"github.com/liso-project/liso/pkg/buffer"
	"github.com/liso-project/liso/pkg/constants"
	"github.com/liso-project/liso/pkg/pipe"
	"github.com/liso-project/liso/pkg/timing"
	"github.com/liso-project/liso/pkg/transport"
)

// Status is the connection's HTTP state machine position.
type Status int

const (
	// IDLE means the connection is waiting for a new request line.
	IDLE Status = iota
	// PHeader means a request line was parsed and headers are being read.
	PHeader
	// PBody means headers are complete and a POST body is being awaited.
	PBody
	// Piping means a response is streaming out; the parser is silent until
	// the pipe relay reports Done.
	Piping
)

// ReadlineStatus reports the outcome of a Readline call.
type ReadlineStatus int

const (
	// GotLine means a full line (up to and including '\n') was available
	// and consumed.
	GotLine ReadlineStatus = iota
	// NeedMore means no newline was found yet within the buffered data.
	NeedMore
	// TooLong means the line would exceed MaxLineLen before a newline was
	// found; the connection must respond 400 and close.
	TooLong
)

// Header is a single parsed header field, stored in reverse-insertion order
// to match the original's head-insert list.
type Header struct {
	Key   string
	Value string
}

// Request holds the in-progress request's parsed state. It is torn down
// (but not its body bytes, which are a view into the connection's in
// buffer) once the handler returns.
type Request struct {
	Method      string
	URI         string
	Query       string
	IsCGI       bool
	ScriptName  string
	PathInfo    string
	Version     string
	Headers     []Header
	ContentLen  int
	HasBody     bool
	BodyOffset  int
	Close       bool
}

// GetHeader performs a case-insensitive linear search, matching
// get_header's contract.
func (r *Request) GetHeader(key string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value, true
		}
	}
	return "", false
}

var statusLines = map[int]string{
	200: "OK",
	400: "Bad Request",
	404: "Not Found",
	405: "Method Not Allowed",
	411: "Length Required",
	500: "Internal Server Error",
	501: "Not Implemented",
	503: "Service Unavailable",
	505: "HTTP Version Not Supported",
}

// Connection is a single accepted client's full state: transport, buffers,
// state machine status, in-progress request, and an optional response pipe.
type Connection struct {
	Fd     int
	Peer   string
	Tr     *transport.Transport
	In     *buffer.Buffer
	Out    *buffer.Buffer
	Status Status
	Alive  bool
	Req    *Request
	Relay  *pipe.Relay
	Timer  *timing.Timer
}

// New builds a fresh connection object around an accepted transport.
func New(fd int, tr *transport.Transport) *Connection {
	return &Connection{
		Fd:     fd,
		Peer:   tr.Addr(),
		Tr:     tr,
		In:     buffer.New(),
		Out:    buffer.New(),
		Status: IDLE,
		Alive:  true,
	}
}

// Free closes the transport. Buffers and the request are left to the
// garbage collector once the Connection itself is dropped by the event
// loop's connection list.
func (c *Connection) Free() error {
	c.Req = nil
	c.Relay = nil
	return c.Tr.Close()
}

// Write appends bytes to the outbound buffer.
func (c *Connection) Write(p []byte) error {
	return c.Out.Append(p)
}

// WriteString appends a string to the outbound buffer.
func (c *Connection) WriteString(s string) error {
	return c.Out.AppendString(s)
}

// Readline scans In's readable span for '\n'. On success it returns the line
// with any trailing '\r' stripped and advances In past the '\n'. It never
// returns a line longer than constants.MaxLineLen.
func (c *Connection) Readline() (string, ReadlineStatus) {
	readable := c.In.Readable()
	limit := len(readable)
	if limit > constants.MaxLineLen {
		limit = constants.MaxLineLen
	}
	idx := -1
	for i := 0; i < limit; i++ {
		if readable[i] == '\n' {
			idx = i
			break
		}
	}
	if idx == -1 {
		if len(readable) >= constants.MaxLineLen {
			return "", TooLong
		}
		return "", NeedMore
	}
	line := readable[:idx]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	out := string(line)
	c.In.Consume(idx + 1)
	return out, GotLine
}

// ConnectionClose reports whether req carries "Connection: close"
// case-insensitively.
func ConnectionClose(req *Request) bool {
	if req == nil {
		return false
	}
	v, ok := req.GetHeader("Connection")
	return ok && strings.EqualFold(strings.TrimSpace(v), "close")
}

// SendStatusLine emits "HTTP/1.1 <code> <reason>\r\n" from the fixed status
// table.
func (c *Connection) SendStatusLine(code int) error {
	reason, ok := statusLines[code]
	if !ok {
		reason = "Internal Server Error"
	}
	return c.WriteString(fmt.Sprintf("%s %d %s\r\n", constants.HTTPVersion, code, reason))
}

// SendHeader emits "key: val\r\n".
func (c *Connection) SendHeader(key, val string) error {
	return c.WriteString(fmt.Sprintf("%s: %s\r\n", key, val))
}

// EndRequest emits the status line, forces Connection: close and marks the
// connection dead for codes 400 and 500, and resets Status to IDLE.
func (c *Connection) EndRequest(code int) {
	_ = c.SendStatusLine(code)
	if code == 400 || code == 500 {
		_ = c.SendHeader("Connection", "close")
		c.Alive = false
	}
	_ = c.WriteString("\r\n")
	c.Status = IDLE
	c.Req = nil
}
