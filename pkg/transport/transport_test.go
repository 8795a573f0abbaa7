package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestPlainReadWriteRoundTrip(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	cli, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	srv := <-accepted
	defer srv.Close()

	tr := NewPlain(srv)
	if tr.IsTLS() {
		t.Fatalf("IsTLS() = true for a plaintext transport")
	}

	if _, err := cli.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, 16)
	var n int
	var result Result
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, result = tr.Read(buf)
		if result == Done {
			break
		}
	}
	if result != Done {
		t.Fatalf("Read result = %v, want Done", result)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("Read = %q, want %q", buf[:n], "ping")
	}
}

func TestReadWouldBlockWhenNoData(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	cli, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	srv := <-accepted
	defer srv.Close()

	tr := NewPlain(srv)
	buf := make([]byte, 16)
	_, result := tr.Read(buf)
	if result != WouldBlock {
		t.Fatalf("Read result = %v, want WouldBlock with no data pending", result)
	}
}

func TestTLSHandshakeAndRoundTrip(t *testing.T) {
	cert, err := generateSelfSigned()
	if err != nil {
		t.Fatalf("generateSelfSigned: %v", err)
	}
	ln := listenTCP(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	clientDone := make(chan error, 1)
	go func() {
		conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{InsecureSkipVerify: true})
		if err != nil {
			clientDone <- err
			return
		}
		defer conn.Close()
		if _, err := conn.Write([]byte("hello")); err != nil {
			clientDone <- err
			return
		}
		clientDone <- nil
	}()

	srv := <-accepted
	defer srv.Close()

	tr := NewTLS(srv, &tls.Config{Certificates: []tls.Certificate{cert}})
	if !tr.IsTLS() {
		t.Fatalf("IsTLS() = false for a TLS transport")
	}

	deadline := time.Now().Add(2 * time.Second)
	var result Result
	for time.Now().Before(deadline) {
		result = tr.Handshake()
		if result != WouldBlock {
			break
		}
	}
	if result != Done {
		t.Fatalf("Handshake result = %v, want Done", result)
	}
	if err := <-clientDone; err != nil {
		t.Fatalf("client side: %v", err)
	}

	buf := make([]byte, 16)
	var n int
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, result = tr.Read(buf)
		if result == Done {
			break
		}
	}
	if result != Done {
		t.Fatalf("Read result = %v, want Done", result)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hello")
	}
}

func listenTCP(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPerm(err) {
			t.Skip("network sockets not permitted in sandbox")
		}
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func isPerm(err error) bool {
	if err == nil {
		return false
	}
	if op, ok := err.(*net.OpError); ok {
		if se, ok := op.Err.(*os.SyscallError); ok {
			if se.Err == syscall.EPERM {
				return true
			}
		}
		if strings.Contains(op.Err.Error(), "operation not permitted") {
			return true
		}
	}
	return strings.Contains(err.Error(), "operation not permitted")
}

func generateSelfSigned() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return tls.X509KeyPair(certPEM, keyPEM)
}
