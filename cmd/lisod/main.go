// Command lisod is the Liso web server entry point: it parses the
// original 8-positional-argument invocation (or equivalent long flags),
// acquires the daemon lock file, wires signal handling, and runs the
// event loop until terminated.
//
// Grounded on original_source/src/lisod.c's main()/daemonize(): this
// re-architecture keeps the lock file, logging setup, and signal wiring,
// but does not literally fork()+setsid() a multi-threaded Go runtime the
// way the original daemonizes a single-threaded C process — see
// DESIGN.md for that limitation.
package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/liso-project/liso/pkg/config"
	"github.com/liso-project/liso/pkg/handler"
	"github.com/liso-project/liso/pkg/logging"
	"github.com/liso-project/liso/pkg/server"
	"github.com/liso-project/liso/pkg/tlsconfig"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lisod <http_port> <https_port> <log_file> <lock_file> <www_folder> <cgi_path> <private_key_file> <certificate_file>",
		Short: "Liso is a single-threaded, event-driven HTTP/1.1 and HTTPS server",
		Args:  cobra.MaximumNArgs(8),
		RunE:  runLisod,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runLisod(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags(), args)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logging.Open(cfg.LogFileName, logrus.InfoLevel)
	defer closeLog()

	release, err := acquireLock(cfg.LockFile)
	if err != nil {
		return fmt.Errorf("lock file: %w", err)
	}
	defer release()

	var tlsConfig *tls.Config
	if cfg.PrivateKeyFile != "" && cfg.CertificateFile != "" {
		tlsConfig, err = loadTLSConfig(cfg.PrivateKeyFile, cfg.CertificateFile)
		if err != nil {
			return fmt.Errorf("tls config: %w", err)
		}
	}

	h := handler.New(handler.Config{
		WWWFolder:  cfg.WWWFolder,
		CGIPath:    cfg.CGIPath,
		ServerPort: fmt.Sprintf("%d", cfg.HTTPPort),
	}, nil, log)

	srv := server.New(server.Config{
		HTTPAddr:  fmt.Sprintf(":%d", cfg.HTTPPort),
		HTTPSAddr: fmt.Sprintf(":%d", cfg.HTTPSPort),
		TLSConfig: tlsConfig,
	}, h, log)
	h.Registry = srv.Registry()

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	installSignalHandlers(srv, log)

	log.Infof("lisod listening on http :%d https :%d", cfg.HTTPPort, cfg.HTTPSPort)
	return srv.Run()
}

// acquireLock opens path and takes an exclusive, non-blocking flock,
// re-expressing the original's lockf(F_TLOCK) single-instance guard.
func acquireLock(path string) (release func(), err error) {
	if path == "" {
		return func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("another lisod instance holds %s", path)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteString(fmt.Sprintf("%d\n", os.Getpid()))
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}

// loadTLSConfig builds the HTTPS listener's tls.Config at the
// tlsconfig.ProfileCompatible level: the original lisod negotiated via
// SSLv23_method() down to TLS 1.0 for old clients, so the compatible
// profile (not the modern/secure ones) is the equivalent floor here.
func loadTLSConfig(keyFile, certFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	tlsconfig.ApplyVersionProfile(cfg, tlsconfig.ProfileCompatible)
	tlsconfig.ApplyCipherSuites(cfg, tlsconfig.VersionTLS10)
	return cfg, nil
}

// installSignalHandlers wires SIGTERM to a graceful Stop (the event loop
// drains its shutdown path itself), logs SIGHUP without reloading anything,
// and ignores SIGPIPE as the original daemon does. SIGCHLD reaping is handled per-child by
// handler.HandlePost's own cmd.Wait goroutine rather than a process-wide
// handler, since Go's os/exec already reaps the children it starts.
func installSignalHandlers(srv *server.Server, log logging.Logger) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGHUP)
	signal.Ignore(syscall.SIGPIPE)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGTERM:
				log.Infof("received SIGTERM, shutting down")
				srv.Stop()
				return
			case syscall.SIGHUP:
				log.Infof("received SIGHUP (config reload not implemented)")
			}
		}
	}()
}
