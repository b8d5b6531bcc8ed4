/*
errors.go - Error taxonomy of the transaction engine

ERROR KINDS (see Kind):
  not_found               ride, booking, account or dispute absent
  invalid_transition      lifecycle guard violated
  insufficient_credits    passenger cannot pay for the seat
  no_seats_available      ride is full
  booking_not_cancellable booking is not confirmed anymore
  invalid_request         input rejected before touching storage
  transaction_aborted     storage failed mid-mutation; everything rolled back

Every failure is detected before or during the storage transaction and
causes a full rollback. Nothing is retried.
*/
package carpool

import (
	"errors"
	"fmt"

	"github.com/ecoride/carpool-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound        = errors.New("not found")
	ErrRideNotFound    = fmt.Errorf("ride %w", ErrNotFound)
	ErrBookingNotFound = fmt.Errorf("booking %w", ErrNotFound)
	ErrDisputeNotFound = fmt.Errorf("dispute %w", ErrNotFound)

	ErrInvalidTransition     = errors.New("invalid transition")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrNoSeatsAvailable      = errors.New("no seats available")
	ErrBookingNotCancellable = errors.New("booking not cancellable")

	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnknownResolution = fmt.Errorf("%w: unknown resolution type", ErrInvalidRequest)
	ErrAlreadyDisputed   = fmt.Errorf("%w: booking already disputed", ErrInvalidRequest)

	// ErrTransactionAborted means storage failed after the transaction began.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrBookingFailed is the aborted-transaction error surfaced by Book.
	ErrBookingFailed = fmt.Errorf("booking failed: %w", ErrTransactionAborted)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity. It matches both ErrNotFound and the
// entity-specific sentinel.
type NotFoundError struct {
	Entity string
	ID     string
	kind   error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error        { return e.kind }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func rideNotFound(id string) error {
	return &NotFoundError{Entity: "ride", ID: id, kind: ErrRideNotFound}
}

func bookingNotFound(id string) error {
	return &NotFoundError{Entity: "booking", ID: id, kind: ErrBookingNotFound}
}

func disputeNotFound(id string) error {
	return &NotFoundError{Entity: "dispute", ID: id, kind: ErrDisputeNotFound}
}

func accountNotFound(id ledger.AccountID) error {
	return &NotFoundError{Entity: "account", ID: string(id), kind: ledger.ErrAccountNotFound}
}

// TransitionError reports a lifecycle guard violation.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %q", e.Action, e.Entity, e.ID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// InsufficientCreditsError provides details about a credit shortage.
type InsufficientCreditsError struct {
	AccountID ledger.AccountID
	Available ledger.Credits
	Requested ledger.Credits
}

func (e *InsufficientCreditsError) Shortfall() ledger.Credits {
	return e.Requested - e.Available
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// AbortedError wraps a storage failure that rolled back an operation.
type AbortedError struct {
	Op    string
	kind  error
	Cause error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.kind, e.Cause)
}

func (e *AbortedError) Unwrap() []error { return []error{e.kind, e.Cause} }

// =============================================================================
// KINDS
// =============================================================================

// Kind is the machine-readable error category returned to clients.
type Kind string

const (
	KindNone                  Kind = ""
	KindNotFound              Kind = "not_found"
	KindInvalidTransition     Kind = "invalid_transition"
	KindInsufficientCredits   Kind = "insufficient_credits"
	KindNoSeatsAvailable      Kind = "no_seats_available"
	KindBookingNotCancellable Kind = "booking_not_cancellable"
	KindInvalidRequest        Kind = "invalid_request"
	KindTransactionAborted    Kind = "transaction_aborted"
)

// KindOf classifies err. Unknown errors count as aborted transactions.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case IsNotFound(err):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrInsufficientCredits):
		return KindInsufficientCredits
	case errors.Is(err, ErrNoSeatsAvailable):
		return KindNoSeatsAvailable
	case errors.Is(err, ErrBookingNotCancellable):
		return KindBookingNotCancellable
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	default:
		return KindTransactionAborted
	}
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ledger.ErrAccountNotFound)
}

// IsClientError returns true if the error is due to the request or the
// current state, not to storage.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidTransition, KindInsufficientCredits, KindNoSeatsAvailable,
		KindBookingNotCancellable, KindInvalidRequest:
		return true
	}
	return false
}

func isDomainError(err error) bool {
	return IsNotFound(err) || IsClientError(err)
}
