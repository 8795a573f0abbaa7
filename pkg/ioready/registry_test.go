package ioready

import (
	"os"
	"testing"
)

func TestAddReadAndWaitReportsReadiness(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	reg := New()
	rfd := int(r.Fd())
	reg.AddRead(rfd)

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	n, err := reg.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n < 1 {
		t.Fatalf("Wait returned n=%d, want >= 1", n)
	}
	if !reg.TestRead(rfd) {
		t.Fatalf("TestRead(%d) = false, want true after data written", rfd)
	}
}

func TestWaitTimesOutWithNoReadyDescriptors(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	reg := New()
	reg.AddRead(int(r.Fd()))

	n, err := reg.Wait(50)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("Wait returned n=%d, want 0 on timeout", n)
	}
}

func TestRemoveReadStopsReporting(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	reg := New()
	fd := int(r.Fd())
	reg.AddRead(fd)
	reg.RemoveRead(fd)

	if _, err := w.Write([]byte("y")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := reg.Wait(50); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if reg.TestRead(fd) {
		t.Fatalf("TestRead(%d) = true after RemoveRead, want false", fd)
	}
}

func TestAddWriteReportsReadiness(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	reg := New()
	wfd := int(w.Fd())
	reg.AddWrite(wfd)

	n, err := reg.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n < 1 {
		t.Fatalf("Wait returned n=%d, want >= 1 (pipe write end starts writable)", n)
	}
	if !reg.TestWrite(wfd) {
		t.Fatalf("TestWrite(%d) = false, want true", wfd)
	}
}
