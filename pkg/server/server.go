// Package server implements the single-threaded, readiness-driven event
// loop: Component H. It owns the connection list, the readiness registry,
// and the listener sockets, and drives accept/recv/parse/send/pipe for
// every connection once per iteration.
//
// Grounded on original_source/src/server.c's main accept/select loop,
// re-architected onto ioready.Registry (poll) and transport.Transport
// (plain/TLS) per the package doc comments in those packages.
package server

import (
	"crypto/tls"
	"net"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/liso-project/liso/pkg/conn"
	"github.com/liso-project/liso/pkg/constants"
	"github.com/liso-project/liso/pkg/errors"
	"github.com/liso-project/liso/pkg/handler"
	"github.com/liso-project/liso/pkg/httpparse"
	"github.com/liso-project/liso/pkg/ioready"
	"github.com/liso-project/liso/pkg/logging"
	"github.com/liso-project/liso/pkg/pipe"
	"github.com/liso-project/liso/pkg/timing"
	"github.com/liso-project/liso/pkg/transport"
)

// Config describes the listeners and TLS material the server needs at
// startup, independent of the document-root/CGI config the handlers use.
type Config struct {
	HTTPAddr  string
	HTTPSAddr string
	TLSConfig *tls.Config // nil disables the HTTPS listener
}

// Server is the event loop and everything it owns: listeners, the
// readiness registry, the connection list (in insertion order), and the
// handlers bound to it.
type Server struct {
	cfg      Config
	registry *ioready.Registry
	handlers *handler.Handlers
	log      logging.Logger

	httpLn  *net.TCPListener
	httpFd  int
	httpsLn *net.TCPListener
	httpsFd int

	conns map[int]*conn.Connection
	order []int

	terminate atomic.Bool
}

// New builds a Server bound to cfg and h, with its listeners not yet open.
func New(cfg Config, h *handler.Handlers, log logging.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: ioready.New(),
		handlers: h,
		log:      log,
		conns:    make(map[int]*conn.Connection),
	}
}

// Registry exposes the server's readiness registry so handlers constructed
// before the server (which must register pipe-relay source fds against the
// same registry the event loop polls) can be wired to it.
func (s *Server) Registry() *ioready.Registry {
	return s.registry
}

// Listen opens the HTTP listener (and the HTTPS listener, if cfg.TLSConfig
// is set) with SO_REUSEADDR and the configured backlog, and registers both
// for read readiness.
func (s *Server) Listen() error {
	httpLn, err := listenTCP(s.cfg.HTTPAddr)
	if err != nil {
		return errors.NewIOError("listen-http", err)
	}
	s.httpLn = httpLn
	s.httpFd, err = fdOf(httpLn)
	if err != nil {
		return err
	}
	s.registry.AddRead(s.httpFd)

	if s.cfg.TLSConfig != nil {
		httpsLn, err := listenTCP(s.cfg.HTTPSAddr)
		if err != nil {
			return errors.NewIOError("listen-https", err)
		}
		s.httpsLn = httpsLn
		s.httpsFd, err = fdOf(httpsLn)
		if err != nil {
			return err
		}
		s.registry.AddRead(s.httpsFd)
	}
	return nil
}

// listenTCP builds the listening socket directly via the AF_INET/SOCK_STREAM
// syscalls spec.md §6 names, rather than net.ListenTCP: the stdlib's Listen
// path derives its backlog from the kernel's net.core.somaxconn default and
// has no way to request constants.ListenBacklog explicitly, which the
// original lisod's listen(fd, 1024) call does.
func listenTCP(addr string) (*net.TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, constants.ListenBacklog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	f := os.NewFile(uintptr(fd), "liso-listener")
	ln, err := net.FileListener(f)
	_ = f.Close() // net.FileListener dup'd the fd; release our copy.
	if err != nil {
		return nil, err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, errors.NewIOError("listen", os.ErrInvalid)
	}
	return tcpLn, nil
}

func fdOf(ln *net.TCPListener) (int, error) {
	rc, err := ln.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	ctrlErr := rc.Control(func(s uintptr) { fd = int(s) })
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}

// Stop sets the termination flag, checked at the head of each iteration.
func (s *Server) Stop() {
	s.terminate.Store(true)
}

// Run executes the event loop until Stop is called, or until a readiness
// wait fails with an error other than EINTR. Each iteration performs one readiness wait followed
// by accept/recv/parse/send/pipe across every connection, in insertion
// order.
func (s *Server) Run() error {
	for !s.terminate.Load() {
		n, err := s.registry.Wait(1000)
		if err != nil {
			return err
		}
		if n <= 0 {
			continue
		}

		s.acceptPlain()
		s.acceptTLS()
		s.serviceConnections()
	}
	s.shutdown()
	return nil
}

func (s *Server) acceptPlain() {
	if s.httpLn == nil || !s.registry.TestRead(s.httpFd) {
		return
	}
	tcpConn, err := s.httpLn.AcceptTCP()
	if err != nil {
		return
	}
	s.addConnection(transport.NewPlain(tcpConn))
}

func (s *Server) acceptTLS() {
	if s.httpsLn == nil || !s.registry.TestRead(s.httpsFd) {
		return
	}
	tcpConn, err := s.httpsLn.AcceptTCP()
	if err != nil {
		return
	}
	tr := transport.NewTLS(tcpConn, s.cfg.TLSConfig)
	c := s.addConnection(tr)
	// Drive the handshake as far as it will go without blocking; remaining
	// attempts happen from serviceConnections on subsequent ready events.
	if result := tr.Handshake(); result == transport.Fatal || result == transport.Closed {
		c.Alive = false
	}
}

func (s *Server) addConnection(tr *transport.Transport) *conn.Connection {
	fd, err := tr.Fd()
	if err != nil {
		_ = tr.Close()
		return conn.New(-1, tr)
	}
	c := conn.New(fd, tr)
	c.Timer = timing.NewTimer()
	s.conns[fd] = c
	s.order = append(s.order, fd)
	s.registry.AddRead(fd)
	s.registry.AddWrite(fd)
	return c
}

func (s *Server) serviceConnections() {
	next := s.order[:0]
	for _, fd := range s.order {
		c, ok := s.conns[fd]
		if !ok {
			continue
		}
		bad := s.serviceOne(c)
		if bad {
			// Connection-fatal transport error: attempt one best-effort
			// flush of whatever error response is already queued, per
			// spec.md §7, before tearing the connection down.
			if c.Out.Len() > 0 {
				_ = s.send(c)
			}
			s.destroy(c)
			continue
		}
		if c.Status == conn.IDLE && !c.Alive {
			// Request-fatal (400/500) or a plain Connection: close leaves
			// Alive false; don't destroy until Out has actually drained,
			// so the client still receives the queued status line.
			if c.Out.Len() > 0 {
				next = append(next, fd)
				continue
			}
			s.destroy(c)
			continue
		}
		next = append(next, fd)
	}
	s.order = next
}

func (s *Server) serviceOne(c *conn.Connection) (bad bool) {
	if c.Tr.IsTLS() {
		if result := c.Tr.Handshake(); result == transport.Fatal || result == transport.Closed {
			return true
		} else if result == transport.WouldBlock {
			return false
		}
	}

	// 4.a: drain readable bytes into `in`.
	if c.Alive && s.registry.TestRead(c.Fd) {
		if s.recv(c) {
			return true
		}
	}

	// 4.b: parse as far as buffered input allows.
	if c.Alive && c.Status != conn.Piping {
		httpparse.Parse(c, s.handlers)
		if c.In.IsEmpty() {
			_ = c.In.Compact()
		}
	}

	// 4.c: drain `out` (even if this request's own dispatch just set
	// Alive=false — an end-of-request error response must still reach the
	// client before the connection is torn down), or step the pipe relay.
	if s.registry.TestWrite(c.Fd) {
		if c.Out.Len() > 0 {
			if s.send(c) {
				return true
			}
		} else if c.Alive && c.Status == conn.Piping && c.Relay != nil {
			// Step closes the source on Done/Fatal, after which SourceFd
			// no longer reports the descriptor; capture it first.
			srcFd := c.Relay.SourceFd()
			sourceReady := s.registry.TestRead(srcFd)
			if sourceReady || c.Relay.HasStaged() {
				if c.Timer != nil {
					c.Timer.MarkPipeStart()
				}
				outcome := c.Relay.Step(c.Tr)
				switch outcome {
				case pipe.Done:
					s.registry.Remove(srcFd)
					c.Relay = nil
					c.Status = conn.IDLE
					if c.Timer != nil {
						c.Timer.MarkPipeEnd()
						s.log.WithField("peer", c.Peer).Debugf("request timing: %s", c.Timer.Metrics())
					}
				case pipe.Fatal:
					s.registry.Remove(srcFd)
					return true
				}
			}
		}
	}
	return false
}

func (s *Server) recv(c *conn.Connection) (bad bool) {
	n, result := c.Tr.Read(c.In.Writable())
	switch result {
	case transport.Done:
		c.In.CommitWrite(n)
		if c.In.IsFull() {
			if err := c.In.Grow(); err != nil {
				return true
			}
		}
		return false
	case transport.WouldBlock:
		return false
	case transport.Closed:
		return true
	default:
		return true
	}
}

func (s *Server) send(c *conn.Connection) (bad bool) {
	n, result := c.Tr.Write(c.Out.Readable())
	switch result {
	case transport.Done:
		c.Out.Consume(n)
		if c.Out.IsEmpty() {
			_ = c.Out.Compact()
		}
		return false
	case transport.WouldBlock:
		return false
	default:
		return true
	}
}

func (s *Server) destroy(c *conn.Connection) {
	if c.Relay != nil {
		s.registry.Remove(c.Relay.SourceFd())
		_ = c.Relay.Close()
	}
	s.registry.Remove(c.Fd)
	_ = c.Free()
	delete(s.conns, c.Fd)
}

func (s *Server) shutdown() {
	for _, fd := range s.order {
		if c, ok := s.conns[fd]; ok {
			s.destroy(c)
		}
	}
	if s.httpLn != nil {
		_ = s.httpLn.Close()
	}
	if s.httpsLn != nil {
		_ = s.httpsLn.Close()
	}
}
