package core

import (
	"errors"
	"fmt"
)

// ErrPermanent marks a state error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the engine fails the workflow without retrying.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
