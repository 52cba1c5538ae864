package guard

import (
	"testing"

	"golang.org/x/sys/unix"
)

func newPipeFD(t *testing.T) (FD, FD) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		t.Fatal(err)
	}
	return NewFD(p[0]), NewFD(p[1])
}

func TestFDCloseIdempotent(t *testing.T) {
	r, w := newPipeFD(t)
	defer w.Close()

	fd := r.Get()
	r.Close()
	if r.OK() {
		t.Fatal("guard still set after Close")
	}
	r.Close() // must be a no-op

	// The descriptor must actually be closed.
	if err := unix.FcntlFlock(uintptr(fd), unix.F_GETLK, &unix.Flock_t{Type: unix.F_RDLCK}); err != unix.EBADF {
		t.Fatalf("expected EBADF on closed fd, got %v", err)
	}
}

func TestFDTake(t *testing.T) {
	r, w := newPipeFD(t)
	defer w.Close()

	fd := r.Get()
	moved := r.Take()
	if r.OK() {
		t.Fatal("source guard still set after Take")
	}
	if r.Get() != -1 {
		t.Fatal("unset guard must return -1")
	}
	if !moved.OK() || moved.Get() != fd {
		t.Fatalf("moved guard lost the descriptor: got %d want %d", moved.Get(), fd)
	}
	r.Close() // no-op on the drained source
	moved.Close()
}

func TestZeroFDIsUnset(t *testing.T) {
	var g FD
	if g.OK() {
		t.Fatal("zero guard reports set")
	}
	g.Close() // must not close fd 0
}

func TestRefReleaseOnce(t *testing.T) {
	n := 0
	g := NewRef(func() { n++ })
	g.Release()
	g.Release()
	if n != 1 {
		t.Fatalf("release called %d times, want 1", n)
	}
}

func TestRefTake(t *testing.T) {
	n := 0
	g := NewRef(func() { n++ })
	moved := g.Take()
	g.Release()
	if n != 0 {
		t.Fatal("drained source guard released the reference")
	}
	moved.Release()
	if n != 1 {
		t.Fatalf("release called %d times, want 1", n)
	}
}
