package core

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed input rejected at the boundary before
// any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrNotFound is returned by stores when no entry exists for a key.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner is returned when a caller attempts an owner-only
	// operation on someone else's data.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotPermitted is returned when a write-permission check fails
	// (revise/overwrite/moderate by an accessor the write mode excludes).
	ErrNotPermitted = errors.New("caller is not permitted")

	// ErrTokenExpired is returned when a confirmation token is validated
	// past its expiry window. The token is permanently unusable.
	ErrTokenExpired = errors.New("confirmation token expired")

	// ErrTokenConsumed is returned when a confirmation token has already
	// reached a terminal state (confirmed or denied).
	ErrTokenConsumed = errors.New("confirmation token already consumed")
)
