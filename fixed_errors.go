package ringio

import (
	"errors"

	"github.com/ringio/ringio/internal/buf/fixed"
)

// WrapFixedError translates an error surfaced by internal/buf/fixed into a
// structured *Error, recognizing PoisonedError rather than flattening it to
// CodeOS.
func WrapFixedError(op string, err error) error {
	if err == nil {
		return nil
	}
	var poisoned *fixed.PoisonedError
	if errors.As(err, &poisoned) {
		return NewError(op, CodeRegistryPoisoned, "fixed buffer collection poisoned")
	}
	return WrapError(op, err)
}
