// Package httpparse drives the per-connection HTTP request state machine:
// IDLE → PHeader → PBody → dispatch, and (for streamed responses) Piping.
//
// Grounded on original_source/src/http_parser.c's parse_request state
// machine, re-expressed over conn.Connection and dispatching to
// handler.Handlers for GET/HEAD/POST.
package httpparse

import (
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/liso-project/liso/pkg/conn"
	"github.com/liso-project/liso/pkg/constants"
	"github.com/liso-project/liso/pkg/handler"
	"github.com/liso-project/liso/pkg/timing"
)

// Parse drives c's state machine as far as buffered input allows, invoking
// h's handlers when a request is fully read. Every client-facing failure is
// reported through conn.Connection.EndRequest; Parse itself never returns a
// status, since all its effects land on c.
func Parse(c *conn.Connection, h *handler.Handlers) {
	for {
		// A request that ended the connection (400/500, or Connection:
		// close) stops parsing; a too-long line would otherwise be re-read
		// forever since it is never consumed.
		if !c.Alive {
			return
		}
		switch c.Status {
		case conn.IDLE:
			if !parseRequestLine(c) {
				return
			}
		case conn.PHeader:
			if !parseHeaders(c, h) {
				return
			}
		case conn.PBody:
			if !parseBody(c, h) {
				return
			}
		default:
			// Piping: the parser is silent until the pipe relay finishes.
			return
		}
	}
}

// parseRequestLine attempts to read and parse the request line. It returns
// true if the state machine should keep looping (either it made progress or
// failed the request), false if more input is needed.
func parseRequestLine(c *conn.Connection) bool {
	line, status := c.Readline()
	switch status {
	case conn.NeedMore:
		return false
	case conn.TooLong:
		c.EndRequest(400)
		return true
	}
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		c.EndRequest(400)
		return true
	}
	method, uri, version := fields[0], fields[1], fields[2]

	upperMethod := strings.ToUpper(method)
	switch upperMethod {
	case "GET", "HEAD", "POST":
	default:
		c.EndRequest(405)
		return true
	}

	if len(uri) > constants.MaxURILen {
		c.EndRequest(400)
		return true
	}

	if version != constants.HTTPVersion {
		c.EndRequest(505)
		return true
	}

	req := &conn.Request{Method: upperMethod, Version: version}
	req.URI, req.Query = splitQuery(uri)
	if strings.HasPrefix(req.URI, "/cgi/") {
		req.IsCGI = true
		req.ScriptName, req.PathInfo = splitCGIPath(req.URI)
	}

	c.Req = req
	c.Status = conn.PHeader
	if c.Timer != nil {
		c.Timer = timing.NewTimer()
	}
	return true
}

func splitQuery(uri string) (path, query string) {
	if idx := strings.IndexByte(uri, '?'); idx != -1 {
		return uri[:idx], uri[idx+1:]
	}
	return uri, ""
}

// splitCGIPath splits "/cgi/foo/bar" into script_name "/cgi/foo" and
// path_info "/bar" at the next '/' after the "/cgi/" prefix.
func splitCGIPath(uri string) (scriptName, pathInfo string) {
	rest := uri[len("/cgi/"):]
	idx := strings.IndexByte(rest, '/')
	if idx == -1 {
		return uri, ""
	}
	return "/cgi/" + rest[:idx], rest[idx:]
}

// parseHeaders reads as many header lines as are buffered. Returns true to
// keep the outer loop going (blank line seen, or a failure was reported).
func parseHeaders(c *conn.Connection, h *handler.Handlers) bool {
	for {
		line, status := c.Readline()
		switch status {
		case conn.NeedMore:
			return false
		case conn.TooLong:
			c.EndRequest(400)
			return true
		}

		if line == "" {
			return dispatchHeadersDone(c, h)
		}

		idx := strings.IndexByte(line, ':')
		if idx <= 0 || idx == len(line)-1 {
			c.EndRequest(400)
			return true
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" || val == "" {
			c.EndRequest(400)
			return true
		}
		if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(val) {
			c.EndRequest(400)
			return true
		}
		// Head-insert, matching the original's list order.
		c.Req.Headers = append([]conn.Header{{Key: key, Value: val}}, c.Req.Headers...)
	}
}

func dispatchHeadersDone(c *conn.Connection, h *handler.Handlers) bool {
	req := c.Req
	req.Close = conn.ConnectionClose(req)
	if c.Timer != nil {
		c.Timer.MarkHeadersDone()
	}

	switch req.Method {
	case "GET":
		code := h.HandleGet(c, req)
		return afterHandler(c, code)
	case "HEAD":
		code := h.HandleHead(c, req)
		return afterHandler(c, code)
	case "POST":
		v, ok := req.GetHeader("Content-Length")
		if !ok {
			c.EndRequest(411)
			return true
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 || !isAllDigits(v) {
			c.EndRequest(400)
			return true
		}
		req.ContentLen = n
		req.HasBody = true
		c.Status = conn.PBody
		return true
	}
	return true
}

func isAllDigits(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseBody waits for the full POST body to be buffered, then dispatches to
// the POST handler.
func parseBody(c *conn.Connection, h *handler.Handlers) bool {
	req := c.Req
	readable := c.In.Readable()
	if len(readable) < req.ContentLen {
		return false
	}
	body := readable[:req.ContentLen]
	c.In.Consume(req.ContentLen)

	code := h.HandlePost(c, req, body)
	return afterHandler(c, code)
}

// afterHandler applies the common post-dispatch rule: non-zero codes end
// the request with an error response; a zero code leaves the response (or
// pipe) the handler already queued, only applying the request's own
// Connection: close if asked.
func afterHandler(c *conn.Connection, code int) bool {
	if c.Timer != nil {
		c.Timer.MarkHandlerDone()
	}
	if code != 0 {
		c.EndRequest(code)
		return true
	}
	if c.Req != nil && c.Req.Close {
		c.Alive = false
	}
	if c.Status != conn.Piping {
		c.Status = conn.IDLE
	}
	c.Req = nil
	return true
}
