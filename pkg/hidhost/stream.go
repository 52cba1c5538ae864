package hidhost

import (
	"sync"
	"time"
	"unsafe"

	"github.com/neuroplastio/hidhost/pkg/guard"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// StreamState is the lifecycle state of a Stream.
type StreamState int32

const (
	StateClosed StreamState = iota
	StateOpening
	StateOpen
	StateClosing
	// StateFaulted is terminal: the stream recorded an error and every
	// further operation except Close returns it.
	StateFaulted
)

func (s StreamState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

// StreamConfig configures Open.
type StreamConfig struct {
	// Log receives stream lifecycle events. Nil disables logging.
	Log *zap.Logger
	// Exclusive takes an advisory lock on the device node, so that a
	// cooperating second process gets ErrExclusiveAccess instead of
	// interleaved reports.
	Exclusive bool
}

// Stream is byte-oriented report access to one open device. Buffers
// passed to Read and Write always include the leading Report ID byte
// (zero when the device does not use IDs); the stream never adds or
// strips that byte — the advertised maximum lengths accounted for it
// once, at discovery time.
//
// Read and Write on the same stream must be serialized by the caller.
// Close may be called concurrently with an in-flight Read or Write and
// unblocks it promptly.
type Stream struct {
	log *zap.Logger
	rec *DeviceRecord

	fd   guard.FD
	wake guard.FD
	lock guard.Ref

	state    atomic.Int32
	faultErr atomic.Error

	ioWG      sync.WaitGroup
	closeOnce sync.Once
}

// Open opens a stream to the device node of the record.
func (r *DeviceRecord) Open(cfg StreamConfig) (*Stream, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stream{log: log, rec: r}
	s.state.Store(int32(StateOpening))

	fd, err := retryEINTR(func() (int, error) {
		return unix.Open(r.Path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	})
	if err != nil {
		errno, _ := errnoOf(err)
		mapped := openError(errno)
		s.fault(mapped)
		return nil, mapped
	}
	fdGuard := guard.NewFD(fd)

	if cfg.Exclusive {
		_, err := retryEINTR(func() (int, error) {
			return 0, unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		})
		if err != nil {
			fdGuard.Close()
			if errno, ok := errnoOf(err); ok && errno == unix.EWOULDBLOCK {
				s.fault(ErrExclusiveAccess)
				return nil, ErrExclusiveAccess
			}
			errno, _ := errnoOf(err)
			mapped := &IOError{Op: "flock", Errno: errno}
			s.fault(mapped)
			return nil, mapped
		}
		lockFD := fd
		s.lock = guard.NewRef(func() {
			unix.Flock(lockFD, unix.LOCK_UN)
		})
	}

	// The wake handle is what lets Close unblock an in-flight wait
	// without tearing the device descriptor out from under it.
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		s.lock.Release()
		fdGuard.Close()
		errno, _ := errnoOf(err)
		mapped := &IOError{Op: "eventfd", Errno: errno}
		s.fault(mapped)
		return nil, mapped
	}

	s.fd = fdGuard.Take()
	s.wake = guard.NewFD(wakeFD)
	s.state.Store(int32(StateOpen))
	log.Debug("stream opened", zap.String("path", r.Path), zap.Bool("exclusive", cfg.Exclusive))
	return s, nil
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

func (s *Stream) fault(err error) {
	s.faultErr.Store(err)
	s.state.Store(int32(StateFaulted))
}

// enter guards one I/O operation against concurrent teardown.
func (s *Stream) enter() error {
	s.ioWG.Add(1)
	switch s.State() {
	case StateOpen:
		return nil
	case StateFaulted:
		s.ioWG.Done()
		return s.faultErr.Load()
	default:
		s.ioWG.Done()
		return ErrClosed
	}
}

// Read blocks until at least one full report is available, the timeout
// elapses, the device disappears, or the stream is closed.
//
// A negative timeout blocks indefinitely; zero polls once. The deadline
// elapsing is reported as ErrTimeout and is not a failure. Device
// disconnection is reported as ErrDeviceGone rather than hanging.
func (s *Stream) Read(buf []byte, timeout time.Duration) (int, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.ioWG.Done()

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if s.State() != StateOpen {
			return 0, ErrClosed
		}
		ready, err := s.wait(unix.POLLIN, deadline)
		if err != nil {
			return 0, err
		}
		if !ready {
			return 0, ErrTimeout
		}

		n, err := retryEINTR(func() (int, error) {
			return unix.Read(s.fd.Get(), buf)
		})
		if err != nil {
			errno, _ := errnoOf(err)
			if errno == unix.EAGAIN {
				// Raced with another reader or a spurious wakeup.
				continue
			}
			return 0, s.ioFault("read", errno)
		}
		if n == 0 {
			return 0, s.ioFault("read", unix.ENODEV)
		}
		return n, nil
	}
}

// Write blocks until the OS accepts the full frame. Partial acceptance is
// retried until the whole length is sent or a hard error occurs.
func (s *Stream) Write(buf []byte) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.ioWG.Done()

	sent := 0
	for sent < len(buf) {
		if s.State() != StateOpen {
			return ErrClosed
		}
		n, err := retryEINTR(func() (int, error) {
			return unix.Write(s.fd.Get(), buf[sent:])
		})
		if err != nil {
			errno, _ := errnoOf(err)
			if errno == unix.EAGAIN {
				ready, werr := s.wait(unix.POLLOUT, time.Time{})
				if werr != nil {
					return werr
				}
				if !ready {
					return ErrClosed
				}
				continue
			}
			return s.ioFault("write", errno)
		}
		sent += n
	}
	return nil
}

// wait blocks on the device and wake descriptors until the requested
// event arrives, reporting false when the deadline elapses first. A zero
// deadline means no deadline. ErrClosed is returned when the wake handle
// fires.
func (s *Stream) wait(events int16, deadline time.Time) (bool, error) {
	for {
		timeoutMS := -1
		if !deadline.IsZero() {
			timeoutMS = pollTimeoutMS(time.Until(deadline))
		}

		fds := []unix.PollFd{
			{Fd: int32(s.fd.Get()), Events: events},
			{Fd: int32(s.wake.Get()), Events: unix.POLLIN},
		}
		n, err := retryEINTR(func() (int, error) {
			return unix.Poll(fds, timeoutMS)
		})
		if err != nil {
			errno, _ := errnoOf(err)
			return false, s.ioFault("poll", errno)
		}
		if n == 0 {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return false, nil
			}
			continue
		}
		if fds[1].Revents != 0 {
			return false, ErrClosed
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, s.ioFault("poll", unix.ENODEV)
		}
		if fds[0].Revents&(events|unix.POLLHUP) != 0 {
			// POLLHUP still allows draining queued reports; the
			// subsequent read reports the disconnect once the queue is
			// empty.
			return true, nil
		}
	}
}

// pollTimeoutMS converts the remaining time budget into a poll timeout,
// rounding up so a sub-millisecond remainder sleeps one tick instead of
// spinning with a zero timeout until the deadline passes.
func pollTimeoutMS(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Millisecond - 1) / time.Millisecond)
}

// ioFault maps a native failure, records a terminal state for
// disconnection, and returns the mapped error.
func (s *Stream) ioFault(op string, errno unix.Errno) error {
	err := ioError(op, errno)
	if err == ErrDeviceGone {
		s.fault(err)
		s.log.Debug("device disconnected", zap.String("path", s.rec.Path), zap.String("op", op))
	}
	return err
}

// GetFeatureReport reads a feature report. buf[0] must hold the Report ID
// (zero if the device does not use IDs); the report is returned in buf
// with that framing intact.
func (s *Stream) GetFeatureReport(buf []byte) (int, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.ioWG.Done()
	if len(buf) == 0 {
		return 0, &IOError{Op: "feature-get", Errno: unix.EINVAL}
	}
	n, err := doIoctl(s.fd.Get(), hidIocGetFeature(len(buf)), unsafe.Pointer(&buf[0]))
	if err != nil {
		errno, _ := errnoOf(err)
		return 0, s.ioFault("feature-get", errno)
	}
	return n, nil
}

// SendFeatureReport writes a feature report. buf[0] holds the Report ID.
func (s *Stream) SendFeatureReport(buf []byte) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.ioWG.Done()
	if len(buf) == 0 {
		return &IOError{Op: "feature-set", Errno: unix.EINVAL}
	}
	_, err := doIoctl(s.fd.Get(), hidIocSetFeature(len(buf)), unsafe.Pointer(&buf[0]))
	if err != nil {
		errno, _ := errnoOf(err)
		return s.ioFault("feature-set", errno)
	}
	return nil
}

// Close tears the stream down. It is idempotent, never fails, and works
// from any state including Faulted: it wakes in-flight operations, waits
// for them to drain, and releases every native handle exactly once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.State() != StateFaulted {
			s.state.Store(int32(StateClosing))
		}
		if s.wake.OK() {
			var one = [8]byte{1}
			retryEINTR(func() (int, error) {
				return unix.Write(s.wake.Get(), one[:])
			})
		}
		s.ioWG.Wait()
		s.lock.Release()
		s.fd.Close()
		s.wake.Close()
		s.state.Store(int32(StateClosed))
		s.log.Debug("stream closed", zap.String("path", s.rec.Path))
	})
	return nil
}
