/*
Package ledger provides the credit accounting primitives of the carpool engine.

PURPOSE:
  Every credit that moves between a passenger, a driver and the platform is
  recorded here. The package knows nothing about rides or bookings; it only
  knows accounts, signed amounts and what caused them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Credits: Integer credit amount (never fractional)
  - Entry: An immutable ledger row with a balance snapshot
  - Reference: The domain event that caused an entry (ride, booking, dispute)
  - Posting: The request to move credits on one account

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified or deleted
  2. Pairing: A balance change and its entry are written together or not at all
  3. Conservation: For every account, balance == sum(entries)

SEE ALSO:
  - ledger.go: Post / Reconcile
  - store.go: Persistence contracts
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AMOUNTS AND IDENTIFIERS
// =============================================================================

// Credits is a signed integer number of platform credits.
type Credits int64

func (c Credits) IsZero() bool  { return c == 0 }
func (c Credits) Neg() Credits { return -c }

type AccountID string
type EntryID string

// NewEntryID returns a random entry identifier.
func NewEntryID() EntryID {
	return EntryID(uuid.NewString())
}

// =============================================================================
// ENTRY TYPES
// =============================================================================

type EntryType string

const (
	EntryDebit  EntryType = "debit"  // Passenger pays for a seat
	EntryCredit EntryType = "credit" // Refunds, dispute payouts, driver payout
	EntryBonus  EntryType = "bonus"  // Registration credits
	EntryRefund EntryType = "refund" // Reserved; refunds are written as credit
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case EntryDebit, EntryCredit, EntryBonus, EntryRefund:
		return true
	}
	return false
}

// =============================================================================
// REFERENCES
// =============================================================================

type ReferenceKind string

const (
	RefRide         ReferenceKind = "ride"
	RefBooking      ReferenceKind = "booking"
	RefDispute      ReferenceKind = "dispute"
	RefRegistration ReferenceKind = "registration"
	RefAdjustment   ReferenceKind = "adjustment"
)

// Reference points at the entity whose state change caused an entry.
type Reference struct {
	Kind ReferenceKind
	ID   string
}

func (r Reference) String() string {
	if r.ID == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

func RideRef(id string) Reference    { return Reference{Kind: RefRide, ID: id} }
func BookingRef(id string) Reference { return Reference{Kind: RefBooking, ID: id} }
func DisputeRef(id string) Reference { return Reference{Kind: RefDispute, ID: id} }

// =============================================================================
// ENTRY - Immutable ledger row
// =============================================================================

type Entry struct {
	ID           EntryID
	AccountID    AccountID
	Amount       Credits // signed: negative for debits
	Type         EntryType
	Reference    Reference
	Description  string
	BalanceAfter Credits // account balance right after this entry
	CreatedAt    time.Time
}

// Posting is a request to move credits on a single account.
type Posting struct {
	AccountID   AccountID
	Amount      Credits
	Type        EntryType
	Reference   Reference
	Description string
}

// Sum adds up the amounts of entries.
func Sum(entries []Entry) Credits {
	var total Credits
	for _, e := range entries {
		total += e.Amount
	}
	return total
}
