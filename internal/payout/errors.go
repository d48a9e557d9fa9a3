package payout

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a payout id does not exist.
	ErrNotFound = errors.New("payout not found")
	// ErrInvalidTransition is returned when a state transition is attempted
	// from a state it is not allowed from.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotAbortable is returned when an operator tries to abort a payout
	// that is already terminal.
	ErrNotAbortable = errors.New("payout cannot be aborted")
)

// ValidationError is raised synchronously at the creation boundary and never
// enters the pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientError marks a failure that should be retried on the next tick.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ResignRequiredError signals that the offending payout invalidated the
// in-flight sequence window. Every signed-but-unconfirmed row after it must be
// demoted and re-signed; DemoteSelf says whether the offending row itself is
// demoted too (true for ledger resign outcomes, false when the row stays in
// Error and only trailing rows are invalid).
type ResignRequiredError struct {
	Payment    Payment
	Reason     string
	DemoteSelf bool
}

func (e *ResignRequiredError) Error() string {
	return fmt.Sprintf("payout %d requires resign: %s", e.Payment.ID, e.Reason)
}

// FatalError wedges the pipeline until the operator aborts the associated
// payout. PaymentID is zero when the failure has no row to pin it on.
type FatalError struct {
	PaymentID int64
	Err       error
}

func (e *FatalError) Error() string {
	if e.PaymentID != 0 {
		return fmt.Sprintf("fatal on payout %d: %v", e.PaymentID, e.Err)
	}
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
