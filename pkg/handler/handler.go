// Package handler implements request handlers for the server core: static
// file GET/HEAD and CGI POST dispatch, grounded on
// original_source/src/request_handler.c's do_get_request/do_post_request
// and RFC 3875's CGI environment variable table.
package handler

import (
	"github.com/liso-project/liso/pkg/ioready"
	"github.com/liso-project/liso/pkg/logging"
)

// Config holds the document root and CGI executable path the handlers
// resolve requests against.
type Config struct {
	WWWFolder  string
	CGIPath    string
	ServerPort string
}

// Handlers binds shared, per-server resources (config, the readiness
// registry a handler registers pipe source fds with, and the logger) that
// every request-handling call needs.
type Handlers struct {
	Cfg      Config
	Registry *ioready.Registry
	Log      logging.Logger
}

// New constructs a Handlers bound to cfg.
func New(cfg Config, registry *ioready.Registry, log logging.Logger) *Handlers {
	return &Handlers{Cfg: cfg, Registry: registry, Log: log}
}

var mimeTypes = map[string]string{
	".html": "text/html",
	".css":  "text/css",
	".png":  "image/png",
	".jpg":  "image/jpg",
	".gif":  "image/gif",
}

func mimeType(ext string) string {
	if m, ok := mimeTypes[ext]; ok {
		return m
	}
	return "application/octet-stream"
}
