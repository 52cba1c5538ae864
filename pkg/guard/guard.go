// Package guard provides scoped ownership wrappers for native OS handles.
//
// Two handle kinds live in this codebase: raw file descriptors released
// through close(2), and reference-counted libudev objects released through
// their unref primitive. They must never be released through the wrong
// primitive, so each kind gets its own guard type. A guard releases its
// handle exactly once; releasing an unset guard is a no-op.
package guard

import (
	"golang.org/x/sys/unix"
)

// FD owns a raw file descriptor. The zero value is unset.
type FD struct {
	fd  int
	set bool
}

// NewFD takes ownership of fd.
func NewFD(fd int) FD {
	return FD{fd: fd, set: true}
}

// OK reports whether the guard currently owns a descriptor.
func (g *FD) OK() bool {
	return g.set
}

// Get returns the owned descriptor. The guard keeps ownership.
// Calling Get on an unset guard returns -1.
func (g *FD) Get() int {
	if !g.set {
		return -1
	}
	return g.fd
}

// Take transfers ownership to the returned guard and unsets g.
func (g *FD) Take() FD {
	out := *g
	g.set = false
	g.fd = -1
	return out
}

// Close releases the descriptor. It is safe to call any number of times.
// Close failures are swallowed: closing an already-invalid descriptor must
// not take down an unrelated code path.
func (g *FD) Close() {
	if !g.set {
		return
	}
	g.set = false
	fd := g.fd
	g.fd = -1
	for {
		err := unix.Close(fd)
		if err != unix.EINTR {
			return
		}
	}
}

// Ref owns one reference on a reference-counted native object. The zero
// value is unset.
type Ref struct {
	release func()
	set     bool
}

// NewRef takes ownership of one reference, to be dropped by release.
func NewRef(release func()) Ref {
	return Ref{release: release, set: true}
}

// OK reports whether the guard currently owns a reference.
func (g *Ref) OK() bool {
	return g.set
}

// Take transfers ownership to the returned guard and unsets g.
func (g *Ref) Take() Ref {
	out := *g
	g.set = false
	g.release = nil
	return out
}

// Release drops the reference. It is safe to call any number of times.
func (g *Ref) Release() {
	if !g.set {
		return
	}
	g.set = false
	release := g.release
	g.release = nil
	if release != nil {
		release()
	}
}
