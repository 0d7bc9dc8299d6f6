package ringio

import (
	"errors"

	"github.com/ringio/ringio/internal/driver"
)

// WrapDriverError translates an error surfaced by internal/driver into a
// structured *Error, recognizing the driver's own sentinels (ErrQueueFull,
// ErrClosed) and OpError rather than flattening everything to CodeOS.
func WrapDriverError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrQueueFull) {
		return NewError(op, CodeQueueFull, "submission queue full")
	}
	if errors.Is(err, driver.ErrClosed) {
		return NewError(op, CodeOS, "ring closed")
	}
	var opErr *driver.OpError
	if errors.As(err, &opErr) {
		return WrapErrno(op, opErr.Errno)
	}
	return WrapError(op, err)
}
