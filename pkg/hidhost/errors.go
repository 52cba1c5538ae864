package hidhost

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Errors returned from this package may be tested with errors.Is.
var (
	// ErrNotFound means the device or registry path is no longer
	// resolvable. Devices vanish between enumeration and resolution in
	// normal operation, so this is an expected outcome, not a failure.
	ErrNotFound = errors.New("hidhost: device not found")

	// ErrPermissionDenied means the device node exists but the process
	// may not open it.
	ErrPermissionDenied = errors.New("hidhost: permission denied")

	// ErrExclusiveAccess means another process holds the device open
	// with an exclusive lock.
	ErrExclusiveAccess = errors.New("hidhost: device is locked by another process")

	// ErrUnsupported means the running kernel or the device topology
	// lacks a capability this operation needs.
	ErrUnsupported = errors.New("hidhost: operation not supported")

	// ErrDeviceGone means the device disconnected mid-operation.
	ErrDeviceGone = errors.New("hidhost: device disconnected")

	// ErrTimeout is the distinguished "no data" read result. It is not a
	// failure: the deadline elapsed before a report arrived.
	ErrTimeout = errors.New("hidhost: read timed out")

	// ErrClosed means the stream was closed while or before the
	// operation ran.
	ErrClosed = errors.New("hidhost: stream is closed")

	// ErrIOFailure matches any IOError via errors.Is.
	ErrIOFailure = errors.New("hidhost: i/o failure")
)

// IOError is a native call failure with its status code attached.
type IOError struct {
	Op    string
	Errno unix.Errno
}

func (e *IOError) Error() string {
	return fmt.Sprintf("hidhost: %s: %s", e.Op, e.Errno.Error())
}

func (e *IOError) Unwrap() error {
	return e.Errno
}

func (e *IOError) Is(target error) bool {
	return target == ErrIOFailure
}

// openError maps errno from opening a device node into the taxonomy.
func openError(errno unix.Errno) error {
	switch errno {
	case unix.ENOENT, unix.ENODEV, unix.ENXIO:
		return ErrNotFound
	case unix.EACCES, unix.EPERM:
		return ErrPermissionDenied
	case unix.EBUSY:
		return ErrExclusiveAccess
	default:
		return &IOError{Op: "open", Errno: errno}
	}
}

// ioError maps errno from an in-flight read/write/ioctl. A device node
// that stops existing mid-operation reports ENODEV or EIO.
func ioError(op string, errno unix.Errno) error {
	switch errno {
	case unix.ENODEV, unix.EIO, unix.ENXIO:
		return ErrDeviceGone
	case unix.ENOTTY:
		return ErrUnsupported
	default:
		return &IOError{Op: op, Errno: errno}
	}
}
