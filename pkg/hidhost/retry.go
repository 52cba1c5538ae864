package hidhost

import (
	"errors"

	"golang.org/x/sys/unix"
)

// retryEINTR runs one blocking native call, restarting it for as long as
// it is interrupted by a signal. Every blocking call site in this package
// goes through here so the restart rule cannot be forgotten at any of
// them. Interruption is never surfaced to callers.
func retryEINTR(fn func() (int, error)) (int, error) {
	for {
		n, err := fn()
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

// errnoOf extracts the native status code, if any.
func errnoOf(err error) (unix.Errno, bool) {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
