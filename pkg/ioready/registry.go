// Package ioready provides the readiness registry the event loop polls once
// per iteration to learn which connection descriptors can be read from or
// written to without blocking.
//
// It is a re-architecture of original_source/src/io.c's select()-based
// fd_set bookkeeping onto golang.org/x/sys/unix.Poll: the registry tracks a
// read-interest and write-interest set per fd and builds a fresh pollfd
// slice for each Wait call, exactly as the original rebuilds its fd_set from
// the watch arrays before every select(). The watch sets persist across
// iterations; only Wait's own snapshot is rebuilt each call.
package ioready

import (
	"sort"

	"golang.org/x/sys/unix"

	"github.com/liso-project/liso/pkg/errors"
)

type interest struct {
	read  bool
	write bool
}

// Registry tracks read/write interest per file descriptor and answers
// readiness questions via poll(2).
type Registry struct {
	watch map[int]*interest
	ready map[int]*interest
}

// New returns an empty registry, equivalent to the original's init().
func New() *Registry {
	return &Registry{
		watch: make(map[int]*interest),
		ready: make(map[int]*interest),
	}
}

func (r *Registry) entry(fd int) *interest {
	it, ok := r.watch[fd]
	if !ok {
		it = &interest{}
		r.watch[fd] = it
	}
	return it
}

// AddRead registers fd for read readiness.
func (r *Registry) AddRead(fd int) { r.entry(fd).read = true }

// RemoveRead unregisters fd from read readiness.
func (r *Registry) RemoveRead(fd int) {
	if it, ok := r.watch[fd]; ok {
		it.read = false
		r.gc(fd, it)
	}
}

// AddWrite registers fd for write readiness.
func (r *Registry) AddWrite(fd int) { r.entry(fd).write = true }

// RemoveWrite unregisters fd from write readiness.
func (r *Registry) RemoveWrite(fd int) {
	if it, ok := r.watch[fd]; ok {
		it.write = false
		r.gc(fd, it)
	}
}

func (r *Registry) gc(fd int, it *interest) {
	if !it.read && !it.write {
		delete(r.watch, fd)
	}
}

// Remove drops fd from both watch sets entirely, e.g. on connection close.
func (r *Registry) Remove(fd int) {
	delete(r.watch, fd)
	delete(r.ready, fd)
}

// TestRead reports whether fd was in the read-ready set from the most recent
// Wait call. The caller must never test an fd it has not added.
func (r *Registry) TestRead(fd int) bool {
	it, ok := r.ready[fd]
	return ok && it.read
}

// TestWrite reports whether fd was in the write-ready set from the most
// recent Wait call.
func (r *Registry) TestWrite(fd int) bool {
	it, ok := r.ready[fd]
	return ok && it.write
}

// Wait snapshots the watch sets, blocks until at least one descriptor is
// ready (or timeoutMillis elapses when >= 0), and returns the number of
// ready descriptors. It returns (0, nil) on EINTR so the caller retries the
// loop iteration, matching the original's handling of a select() restart.
func (r *Registry) Wait(timeoutMillis int) (int, error) {
	fds := make([]int, 0, len(r.watch))
	for fd := range r.watch {
		fds = append(fds, fd)
	}
	// Deterministic ordering keeps the syscall's result list (and therefore
	// any logging of it) stable across runs for the same watch set.
	sort.Ints(fds)

	pollfds := make([]unix.PollFd, 0, len(fds))
	for _, fd := range fds {
		it := r.watch[fd]
		var events int16
		if it.read {
			events |= unix.POLLIN
		}
		if it.write {
			events |= unix.POLLOUT
		}
		pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: events})
	}

	n, err := unix.Poll(pollfds, timeoutMillis)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NewIOError("poll", err)
	}

	r.ready = make(map[int]*interest, n)
	for _, pfd := range pollfds {
		if pfd.Revents == 0 {
			continue
		}
		it := &interest{}
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			it.read = true
		}
		if pfd.Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			it.write = true
		}
		r.ready[int(pfd.Fd)] = it
	}
	return n, nil
}
