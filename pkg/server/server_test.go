package server

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/liso-project/liso/pkg/handler"
	"github.com/liso-project/liso/pkg/ioready"
	"github.com/liso-project/liso/pkg/logging"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skip("network sockets not permitted in sandbox")
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServerServesSimpleGet(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("Hi!\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	addr := freeAddr(t)
	h := handler.New(handler.Config{WWWFolder: dir}, ioready.New(), logging.Nop())
	s := New(Config{HTTPAddr: addr}, h, logging.Nop())
	// The handlers must register pipe source fds against the same registry
	// the event loop polls.
	h.Registry = s.registry

	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Run()
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	cli, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	if _, err := cli.Write([]byte("GET /hello.txt HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cli.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(cli)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if statusLine != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q, want %q", statusLine, "HTTP/1.1 200 OK\r\n")
	}
}
