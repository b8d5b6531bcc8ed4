package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when a balance adjustment targets a
	// missing account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidPosting is returned when a posting's sign does not match its
	// entry type, or its type/account is missing.
	ErrInvalidPosting = errors.New("invalid posting")

	// ErrConservation is returned when an account balance no longer equals
	// the sum of its ledger entries.
	ErrConservation = errors.New("balance does not match ledger")
)

// ConservationError describes a balance/ledger mismatch for one account.
type ConservationError struct {
	AccountID AccountID
	Balance   Credits
	LedgerSum Credits
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf("account %s: balance %d, ledger sum %d (drift %d)",
		e.AccountID, e.Balance, e.LedgerSum, e.Balance-e.LedgerSum)
}

func (e *ConservationError) Unwrap() error {
	return ErrConservation
}
