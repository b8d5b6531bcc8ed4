/*
ledger.go - Paired balance + entry postings

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. PAIRED: Every balance change has exactly one entry, written in the same
     storage transaction. If either write fails the caller's transaction is
     rolled back and neither is visible.
  3. CONSERVATION: balance == sum(entries) for every account.

CORRECTIONS:
  Mistakes are corrected with new entries of opposite sign (a refund after a
  debit), never by editing history.

EXAMPLE FLOW (one booking, then a cancellation):
  1. Registration: bonus  +50  (balance 50)
  2. Booking:      debit  -45  (balance 5)
  3. Cancellation: credit +45  (balance 50)

  Ledger: [+50, -45, +45] = 50 = balance
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Ledger posts credit movements through a Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a ledger bound to store. Pass a transaction-scoped store when
// the posting is part of a larger atomic unit.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Post adjusts the account balance and appends the matching entry.
// The returned entry carries the balance snapshot taken right after the
// adjustment.
func (l *Ledger) Post(ctx context.Context, p Posting) (Entry, error) {
	if err := validatePosting(p); err != nil {
		return Entry{}, err
	}

	balance, err := l.store.AdjustBalance(ctx, p.AccountID, p.Amount)
	if err != nil {
		return Entry{}, fmt.Errorf("adjust balance of %s: %w", p.AccountID, err)
	}

	entry := Entry{
		ID:           NewEntryID(),
		AccountID:    p.AccountID,
		Amount:       p.Amount,
		Type:         p.Type,
		Reference:    p.Reference,
		Description:  p.Description,
		BalanceAfter: balance,
		CreatedAt:    l.now().UTC(),
	}
	if err := l.store.Append(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("append %s entry for %s: %w", p.Type, p.AccountID, err)
	}
	return entry, nil
}

func validatePosting(p Posting) error {
	if p.AccountID == "" {
		return fmt.Errorf("%w: missing account", ErrInvalidPosting)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", ErrInvalidPosting, p.Type)
	}
	// Debits take credits away; everything else gives them.
	if p.Type == EntryDebit && p.Amount > 0 {
		return fmt.Errorf("%w: debit must be negative, got %d", ErrInvalidPosting, p.Amount)
	}
	if p.Type != EntryDebit && p.Amount < 0 {
		return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidPosting, p.Type, p.Amount)
	}
	return nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconcile checks the conservation invariant for one account.
// Returns a *ConservationError when balance and ledger disagree.
func Reconcile(ctx context.Context, r Reader, accountID AccountID) error {
	balance, entries, err := r.Snapshot(ctx, accountID)
	if err != nil {
		return err
	}
	if sum := Sum(entries); sum != balance {
		return &ConservationError{AccountID: accountID, Balance: balance, LedgerSum: sum}
	}
	return nil
}
