package ledger

import "context"

// Store is the write side of the ledger.
//
// Both methods are expected to run against the same storage transaction;
// Post relies on that to keep a balance change and its entry together.
// There is no update or delete method for entries, and there never will be.
type Store interface {
	// AdjustBalance applies delta with a single atomic increment and returns
	// the new balance. Returns ErrAccountNotFound if the account is absent.
	// Non-negativity is NOT checked here; callers check sufficiency first.
	AdjustBalance(ctx context.Context, accountID AccountID, delta Credits) (Credits, error)

	// Append persists one immutable entry.
	Append(ctx context.Context, entry Entry) error
}

// Reader is the read side used for history and reconciliation.
type Reader interface {
	Balance(ctx context.Context, accountID AccountID) (Credits, error)

	// Entries returns the account's entries in insertion order.
	Entries(ctx context.Context, accountID AccountID) ([]Entry, error)

	// Snapshot returns balance and entries as of one point in time.
	Snapshot(ctx context.Context, accountID AccountID) (Credits, []Entry, error)
}
