package handler

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/liso-project/liso/pkg/conn"
	"github.com/liso-project/liso/pkg/ioready"
	"github.com/liso-project/liso/pkg/logging"
	"github.com/liso-project/liso/pkg/pipe"
)

func writeEchoScript(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("CGI dispatch test requires a POSIX shell")
	}
	script := filepath.Join(dir, "echo.sh")
	body := "#!/bin/sh\nread line\necho \"HTTP/1.1 200 OK\"\necho \"Content-Type: text/plain\"\necho \"\"\necho \"METHOD=$REQUEST_METHOD PATH=$PATH_INFO\"\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return script
}

func TestHandlePostRejectsNonCGI(t *testing.T) {
	h := New(Config{}, ioready.New(), logging.Nop())
	c, cli := newTestConn(t)
	defer cli.Close()
	defer c.Free()

	code := h.HandlePost(c, &conn.Request{Method: "POST", IsCGI: false}, nil)
	if code != 503 {
		t.Fatalf("HandlePost non-CGI code = %d, want 503", code)
	}
}

func TestHandlePostDispatchesCGIScript(t *testing.T) {
	dir := t.TempDir()
	script := writeEchoScript(t, dir)

	h := New(Config{CGIPath: script}, ioready.New(), logging.Nop())
	c, cli := newTestConn(t)
	defer cli.Close()
	defer c.Free()

	req := &conn.Request{
		Method:   "POST",
		IsCGI:    true,
		PathInfo: "/extra",
		Headers:  []conn.Header{{Key: "Content-Length", Value: "5"}},
	}
	code := h.HandlePost(c, req, []byte("hello"))
	if code != 0 {
		t.Fatalf("HandlePost code = %d, want 0", code)
	}
	if c.Relay == nil {
		t.Fatalf("HandlePost did not install a pipe relay")
	}

	// Drain the relay to the client side of the test connection, confirming
	// the child actually produced output.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		outcome := c.Relay.Step(c.Tr)
		if outcome == pipe.Done || outcome == pipe.Fatal {
			break
		}
	}

	buf := make([]byte, 4096)
	cli.SetReadDeadline(time.Now().Add(time.Second))
	n, _ := cli.Read(buf)
	if n == 0 {
		t.Fatalf("expected CGI script output, got none")
	}
}

func TestHandlePostMissingScriptReturns404(t *testing.T) {
	h := New(Config{CGIPath: "/nonexistent/cgi-bin/script"}, ioready.New(), logging.Nop())
	c, cli := newTestConn(t)
	defer cli.Close()
	defer c.Free()

	code := h.HandlePost(c, &conn.Request{Method: "POST", IsCGI: true}, nil)
	if code != 404 {
		t.Fatalf("HandlePost missing script code = %d, want 404", code)
	}
}
