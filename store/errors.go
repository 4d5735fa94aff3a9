package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an update targets a key that doesn't exist.
	ErrNotFound = errors.New("store: item not found")

	// ErrConflict is returned when a conditional put finds an item with the same key.
	ErrConflict = errors.New("store: item already exists")

	// ErrConditionFailed is returned when a caller-supplied update condition is false.
	ErrConditionFailed = errors.New("store: condition not met")

	// ErrTransactionFailed is returned when an atomic multi-item write is cancelled.
	ErrTransactionFailed = errors.New("store: transaction failed")

	// ErrInvalidCursor is returned when a pagination token cannot be decoded.
	ErrInvalidCursor = errors.New("store: invalid pagination token")
)

// Cancellation reason codes reported per transaction operation.
const (
	ReasonNone                   = "None"
	ReasonConditionalCheckFailed = "ConditionalCheckFailed"
	ReasonTransactionConflict    = "TransactionConflict"
)

// TransactionFailedError reports why TransactWrite rejected a transaction.
// Reasons[i] is the cancellation code for the i-th operation.
type TransactionFailedError struct {
	Reasons []string
	Err     error
}

func (e *TransactionFailedError) Error() string {
	var failed []string
	for i, r := range e.Reasons {
		if r != "" && r != ReasonNone {
			failed = append(failed, fmt.Sprintf("op %d: %s", i, r))
		}
	}
	if len(failed) == 0 && e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrTransactionFailed, e.Err)
	}
	return fmt.Sprintf("%s (%s)", ErrTransactionFailed, strings.Join(failed, ", "))
}

// Is reports whether target is ErrTransactionFailed.
func (e *TransactionFailedError) Is(target error) bool {
	return target == ErrTransactionFailed
}

func (e *TransactionFailedError) Unwrap() error {
	return e.Err
}

// Cancelled reports whether the i-th operation carries a cancellation code.
func (e *TransactionFailedError) Cancelled(i int) bool {
	return i >= 0 && i < len(e.Reasons) && e.Reasons[i] != "" && e.Reasons[i] != ReasonNone
}

// Conflicted reports whether the i-th operation collided with another
// in-flight transaction on the same item.
func (e *TransactionFailedError) Conflicted(i int) bool {
	return i >= 0 && i < len(e.Reasons) && e.Reasons[i] == ReasonTransactionConflict
}

// ConditionFailed reports whether the i-th operation failed its condition.
func (e *TransactionFailedError) ConditionFailed(i int) bool {
	return i >= 0 && i < len(e.Reasons) && e.Reasons[i] == ReasonConditionalCheckFailed
}
