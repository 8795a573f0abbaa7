package handler

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/liso-project/liso/pkg/conn"
	"github.com/liso-project/liso/pkg/constants"
	"github.com/liso-project/liso/pkg/pipe"
)

// gmt is used to render Date/Last-Modified as RFC 1123 with a literal "GMT"
// zone abbreviation; time.RFC1123 formatted against time.UTC renders "UTC"
// instead, which original_source/src/request_handler.c's strftime("... GMT")
// does not.
var gmt = time.FixedZone("GMT", 0)

// resolveStatic canonicalizes the document root and appends the requested
// path, falling back to index.html when the target is a directory.
func (h *Handlers) resolveStatic(uriPath string) (string, os.FileInfo, error) {
	root, err := filepath.Abs(h.Cfg.WWWFolder)
	if err != nil {
		return "", nil, err
	}
	target := filepath.Join(root, filepath.FromSlash(uriPath))

	info, err := os.Stat(target)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		target = filepath.Join(target, "index.html")
		info, err = os.Stat(target)
		if err != nil {
			return "", nil, err
		}
	}
	return target, info, nil
}

func (h *Handlers) writeCommonHeaders(c *conn.Connection, info os.FileInfo, ext string) error {
	if err := c.SendHeader("Content-Type", mimeType(ext)); err != nil {
		return err
	}
	if err := c.SendHeader("Content-Length", strconv.FormatInt(info.Size(), 10)); err != nil {
		return err
	}
	now := time.Now().In(gmt).Format(time.RFC1123)
	if err := c.SendHeader("Date", now); err != nil {
		return err
	}
	modTime := info.ModTime().In(gmt).Format(time.RFC1123)
	if err := c.SendHeader("Last-Modified", modTime); err != nil {
		return err
	}
	if err := c.SendHeader("Server", constants.ServerName); err != nil {
		return err
	}
	connHeader := "keep-alive"
	if c.Req != nil && c.Req.Close {
		connHeader = "close"
	}
	return c.SendHeader("Connection", connHeader)
}

// HandleGet serves a static file body over a pipe relay. Returns 0 on
// success (the response is already queued/streaming); a non-zero HTTP
// status code otherwise.
func (h *Handlers) HandleGet(c *conn.Connection, req *conn.Request) int {
	path, info, err := h.resolveStatic(req.URI)
	if err != nil {
		return 404
	}

	f, err := os.Open(path)
	if err != nil {
		return 404
	}

	if err := c.SendStatusLine(200); err != nil {
		_ = f.Close()
		return 500
	}
	if err := h.writeCommonHeaders(c, info, filepath.Ext(path)); err != nil {
		_ = f.Close()
		return 500
	}
	if err := c.WriteString("\r\n"); err != nil {
		_ = f.Close()
		return 500
	}

	relay := pipe.New(f)
	c.Relay = relay
	c.Status = conn.Piping
	h.Registry.AddRead(relay.SourceFd())
	return 0
}

// HandleHead emits the same headers as HandleGet without streaming a body.
func (h *Handlers) HandleHead(c *conn.Connection, req *conn.Request) int {
	path, info, err := h.resolveStatic(req.URI)
	if err != nil {
		return 404
	}

	if err := c.SendStatusLine(200); err != nil {
		return 500
	}
	if err := h.writeCommonHeaders(c, info, filepath.Ext(path)); err != nil {
		return 500
	}
	if err := c.WriteString("\r\n"); err != nil {
		return 500
	}
	return 0
}
