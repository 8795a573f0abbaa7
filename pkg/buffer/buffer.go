// Package buffer provides the dynamic per-connection FIFO byte buffer used
// for both the read (in) and write (out) side of a connection, plus the pipe
// relay staging area.
//
// It is a direct re-architecture of original_source/src/io.c's buf_t: a
// growable byte slice with a consumer cursor (pos) and a live-data watermark
// (size). Capacity grows by 1.5x when free space runs low and is reclaimed by
// compaction once free space (capacity - size + pos) exceeds BUFSIZE — see
// Grow and Compact.
package buffer

import (
	"github.com/liso-project/liso/pkg/constants"
	"github.com/liso-project/liso/pkg/errors"
)

// Buffer is a growable FIFO of bytes: [0, pos) is consumed and reclaimable,
// [pos, size) is live, [size, cap(storage)) is free space available to write
// into. Invariant: 0 <= pos <= size <= cap(storage), and
// constants.BUFSIZE <= cap(storage).
type Buffer struct {
	storage []byte
	size    int
	pos     int
}

// New allocates a buffer with the initial BUFSIZE capacity.
func New() *Buffer {
	return &Buffer{storage: make([]byte, constants.BUFSIZE)}
}

// Len returns the number of unread/unsent live bytes.
func (b *Buffer) Len() int { return b.size - b.pos }

// Cap returns the current allocated capacity.
func (b *Buffer) Cap() int { return len(b.storage) }

// Readable returns the live byte span [pos, size). The returned slice aliases
// the buffer's storage and is only valid until the next mutating call.
func (b *Buffer) Readable() []byte { return b.storage[b.pos:b.size] }

// Writable returns the free suffix [size, cap) to write new data into
// directly (e.g. via a single Read syscall), without copying. Callers must
// call CommitWrite with however many bytes they actually wrote.
func (b *Buffer) Writable() []byte { return b.storage[b.size:] }

// CommitWrite advances size by n after the caller wrote n bytes into the
// slice returned by Writable.
func (b *Buffer) CommitWrite(n int) { b.size += n }

// Consume advances pos by n, marking n live bytes as consumed.
func (b *Buffer) Consume(n int) {
	b.pos += n
	if b.pos > b.size {
		b.pos = b.size
	}
}

// Reset clears the buffer back to empty without releasing storage.
func (b *Buffer) Reset() {
	b.size = 0
	b.pos = 0
}

// IsFull reports whether the buffer needs to grow before more data can be
// written into it: true once size (the write watermark, consumed prefix
// included) plus half a BUFSIZE would overrun the current capacity.
func (b *Buffer) IsFull() bool {
	return b.size+constants.BUFSIZE/2 > len(b.storage)
}

// IsEmpty reports whether enough of the buffer is consumed-but-unreclaimed
// free space that it is worth compacting: true once free space (capacity -
// size + pos) exceeds BUFSIZE.
func (b *Buffer) IsEmpty() bool {
	freeSpace := len(b.storage) - b.size + b.pos
	return freeSpace > constants.BUFSIZE
}

// Grow expands capacity by 1.5x, the growth factor required whenever IsFull
// holds and more data is about to be written.
func (b *Buffer) Grow() error {
	newCap := len(b.storage) + len(b.storage)/2
	grown := make([]byte, newCap)
	n := copy(grown, b.storage[:b.size])
	if n != b.size {
		return errors.NewBufferError("grow", nil)
	}
	b.storage = grown
	return nil
}

// Compact moves the live span [pos, size) to offset 0 and shrinks capacity by
// half of the reclaimed free space, preserving the live byte sequence.
func (b *Buffer) Compact() error {
	freeSpace := len(b.storage) - b.size + b.pos
	newSize := b.size - b.pos
	newCap := len(b.storage) - freeSpace/2
	if newCap < newSize {
		newCap = newSize
	}
	if newCap < constants.BUFSIZE {
		newCap = constants.BUFSIZE
	}

	compacted := make([]byte, newCap)
	copy(compacted, b.storage[b.pos:b.size])
	b.storage = compacted
	b.size = newSize
	b.pos = 0
	return nil
}

// EnsureWritable grows the buffer until it can accept n more bytes without
// immediately being IsFull again, per the append-must-grow-first rule.
func (b *Buffer) EnsureWritable(n int) error {
	for len(b.storage)-b.size < n || b.size+n+constants.BUFSIZE/2 > len(b.storage) {
		if err := b.Grow(); err != nil {
			return err
		}
	}
	return nil
}

// Append copies p into the buffer, growing storage first if necessary. Used
// by the connection's out-buffer write helpers (status line, headers).
func (b *Buffer) Append(p []byte) error {
	if err := b.EnsureWritable(len(p)); err != nil {
		return err
	}
	n := copy(b.storage[b.size:], p)
	b.size += n
	return nil
}

// AppendString is a convenience wrapper around Append for string data.
func (b *Buffer) AppendString(s string) error {
	return b.Append([]byte(s))
}
