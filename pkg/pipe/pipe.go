// Package pipe streams bytes from a source file descriptor (an open static
// file, or a CGI child's stdout) to a client transport without ever holding
// the entire response in memory.
//
// It is a direct re-architecture of original_source/src/io.c's io_pipe():
// a fixed BUFSIZE staging buffer refilled by one read from the source once
// drained, then drained to the client by one write per Step call.
package pipe

import (
	"io"
	"os"

	"github.com/liso-project/liso/pkg/constants"
	"github.com/liso-project/liso/pkg/transport"
)

// Outcome reports what a single Step call accomplished.
type Outcome int

const (
	// Continue means more data remains; call Step again once the relevant
	// descriptor (source or client) is ready.
	Continue Outcome = iota
	// Done means the source reached EOF and all staged bytes were flushed
	// to the client.
	Done
	// Fatal means the source or client failed; the caller must tear down
	// both.
	Fatal
)

// Relay stages up to constants.BUFSIZE bytes at a time from src to a client
// transport, one read and one write per Step call.
type Relay struct {
	src      *os.File
	buf      [constants.BUFSIZE]byte
	offset   int
	datasize int
	srcDone  bool
}

// New starts a relay reading from src.
func New(src *os.File) *Relay {
	return &Relay{src: src}
}

// SourceFd returns the source file descriptor, for registration with the
// readiness registry while waiting for more data to read.
func (r *Relay) SourceFd() int { return int(r.src.Fd()) }

// HasStaged reports whether the staging buffer still holds bytes not yet
// written to the client, i.e. Step can make progress without first reading
// from the source.
func (r *Relay) HasStaged() bool { return r.offset < r.datasize }

// Step performs at most one read (if the staging buffer is empty) and one
// write to client, mirroring io_pipe's single-attempt-per-call contract.
func (r *Relay) Step(client *transport.Transport) Outcome {
	if r.offset >= r.datasize {
		if r.srcDone {
			return Done
		}
		n, err := r.src.Read(r.buf[:])
		if err != nil && err != io.EOF {
			r.close()
			return Fatal
		}
		if n == 0 {
			r.srcDone = true
			r.close()
			return Done
		}
		r.datasize = n
		r.offset = 0
	}

	n, result := client.Write(r.buf[r.offset:r.datasize])
	switch result {
	case transport.Done:
		r.offset += n
		if r.offset >= r.datasize && r.srcDone {
			return Done
		}
		return Continue
	case transport.WouldBlock:
		return Continue
	default:
		r.close()
		return Fatal
	}
}

func (r *Relay) close() {
	_ = r.src.Close()
}

// Close releases the source descriptor without attempting further writes,
// used when the client connection itself is torn down mid-pipe.
func (r *Relay) Close() error {
	return r.src.Close()
}
