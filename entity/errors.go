package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("loyalty: validation failed")

	// ErrNotFound is returned when a referenced user or order doesn't exist.
	ErrNotFound = errors.New("loyalty: not found")

	// ErrConflict is returned on a uniqueness violation such as a duplicate email.
	ErrConflict = errors.New("loyalty: already exists")

	// ErrInsufficientBalance is matched by *InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("loyalty: insufficient points")

	// ErrInvalidStateTransition is returned for an illegal order status change.
	ErrInvalidStateTransition = errors.New("loyalty: invalid state transition")

	// ErrNothingToExpire is returned when expiring points from a zero balance.
	ErrNothingToExpire = errors.New("loyalty: no points to expire")

	// ErrConcurrentModification is returned when a write kept losing to
	// concurrent writers on the same record.
	ErrConcurrentModification = errors.New("loyalty: concurrent modification")
)

// InsufficientBalanceError reports a redemption larger than the balance.
type InsufficientBalanceError struct {
	Available int64
	Required  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: available %d, required %d", ErrInsufficientBalance, e.Available, e.Required)
}

// Is reports whether target is ErrInsufficientBalance.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// Validationf returns an ErrValidation wrapping a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound wrapping a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
