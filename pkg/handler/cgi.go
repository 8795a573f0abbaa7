package handler

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/liso-project/liso/pkg/conn"
	"github.com/liso-project/liso/pkg/constants"
	"github.com/liso-project/liso/pkg/pipe"
)

// cgiWriteAttemptTimeout bounds each non-blocking attempt to hand the
// request body to the child's stdin pipe.
const cgiWriteAttemptTimeout = 50 * time.Millisecond

// cgiWriteTotalTimeout bounds how long HandlePost will retry writing the
// body before giving up and killing the child, so a stalled script can't
// stall the event loop indefinitely.
const cgiWriteTotalTimeout = 2 * time.Second

// HandlePost dispatches a POST request to the configured CGI executable. A
// non-CGI POST path is rejected with 503.
func (h *Handlers) HandlePost(c *conn.Connection, req *conn.Request, body []byte) int {
	if !req.IsCGI {
		return 503
	}

	scriptPath, err := h.resolveCGI()
	if err != nil {
		return 404
	}
	if info, err := os.Stat(scriptPath); err != nil {
		return 404
	} else if info.Mode()&0111 == 0 {
		return 500
	}

	cmd := exec.Command(scriptPath)
	cmd.Dir = filepath.Dir(scriptPath)
	cmd.Env = h.buildCGIEnv(c, req)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return 500
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		return 500
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return 500
	}
	_ = stdinR.Close()
	_ = stdoutW.Close()

	if len(body) > 0 {
		if err := writeAllNonBlocking(stdinW, body); err != nil {
			_ = cmd.Process.Kill()
			_ = stdinW.Close()
			_ = stdoutR.Close()
			go cmd.Wait()
			return 500
		}
	}
	_ = stdinW.Close()

	go func() {
		_ = cmd.Wait()
	}()

	c.Relay = pipe.New(stdoutR)
	c.Status = conn.Piping
	h.Registry.AddRead(c.Relay.SourceFd())
	return 0
}

// writeAllNonBlocking writes p to f using a short deadline per attempt,
// iterating on partial writes, within a total time budget.
func writeAllNonBlocking(f *os.File, p []byte) error {
	deadline := time.Now().Add(cgiWriteTotalTimeout)
	written := 0
	for written < len(p) {
		if time.Now().After(deadline) {
			return fmt.Errorf("cgi stdin write timed out after %v", cgiWriteTotalTimeout)
		}
		_ = f.SetWriteDeadline(time.Now().Add(cgiWriteAttemptTimeout))
		n, err := f.Write(p[written:])
		written += n
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return err
		}
	}
	return nil
}

func (h *Handlers) resolveCGI() (string, error) {
	root, err := filepath.Abs(h.Cfg.CGIPath)
	if err != nil {
		return "", err
	}
	return root, nil
}

func (h *Handlers) buildCGIEnv(c *conn.Connection, req *conn.Request) []string {
	contentLength := ""
	contentType := ""
	if v, ok := req.GetHeader("Content-Length"); ok {
		contentLength = v
	}
	if v, ok := req.GetHeader("Content-Type"); ok {
		contentType = v
	}

	host, port, err := net.SplitHostPort(c.Peer)
	if err != nil {
		host = c.Peer
	}

	env := []string{
		"AUTH_TYPE=",
		"CONTENT_LENGTH=" + contentLength,
		"CONTENT_TYPE=" + contentType,
		"GATEWAY_INTERFACE=CGI/1.1",
		"PATH_INFO=" + req.PathInfo,
		"PATH_TRANSLATED=" + filepath.Join(h.Cfg.CGIPath, req.PathInfo),
		"QUERY_STRING=" + req.Query,
		"REMOTE_ADDR=" + host,
		"REMOTE_HOST=" + host,
		"REMOTE_IDENT=",
		"REMOTE_USER=",
		"REQUEST_METHOD=" + req.Method,
		"SCRIPT_NAME=" + req.ScriptName,
		"SERVER_NAME=" + constants.ServerName,
		"SERVER_PORT=" + orFallback(h.Cfg.ServerPort, port),
		"SERVER_PROTOCOL=" + constants.HTTPVersion,
		"SERVER_SOFTWARE=" + constants.ServerName,
	}

	for _, hd := range req.Headers {
		env = append(env, "HTTP_"+headerEnvName(hd.Key)+"="+hd.Value)
	}
	return env
}

func orFallback(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

// headerEnvName converts "X-Foo-Bar" to "X_FOO_BAR".
func headerEnvName(key string) string {
	upper := strings.ToUpper(key)
	return strings.ReplaceAll(upper, "-", "_")
}
