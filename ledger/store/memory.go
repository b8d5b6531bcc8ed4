// Package store provides ledger Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/ecoride/carpool-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps balances and entries in maps. It has no transactions, so it
// only suits single-posting use and tests of the ledger package itself.
type Memory struct {
	mu       sync.RWMutex
	balances map[ledger.AccountID]ledger.Credits
	entries  map[ledger.AccountID][]ledger.Entry
	ids      map[ledger.EntryID]bool
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[ledger.AccountID]ledger.Credits),
		entries:  make(map[ledger.AccountID][]ledger.Entry),
		ids:      make(map[ledger.EntryID]bool),
	}
}

// OpenAccount registers an account with a zero balance.
func (m *Memory) OpenAccount(id ledger.AccountID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[id]; !ok {
		m.balances[id] = 0
	}
}

// SetBalance overwrites a balance without writing an entry. It exists to
// simulate drift in reconciliation tests.
func (m *Memory) SetBalance(id ledger.AccountID, balance ledger.Credits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[id] = balance
}

func (m *Memory) AdjustBalance(_ context.Context, id ledger.AccountID, delta ledger.Credits) (ledger.Credits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[id]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	balance += delta
	m.balances[id] = balance
	return balance, nil
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ids[e.ID] {
		return ledger.ErrInvalidPosting
	}
	m.ids[e.ID] = true
	m.entries[e.AccountID] = append(m.entries[e.AccountID], e)
	return nil
}

func (m *Memory) Balance(_ context.Context, id ledger.AccountID) (ledger.Credits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, ok := m.balances[id]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	return balance, nil
}

func (m *Memory) Entries(_ context.Context, id ledger.AccountID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, len(m.entries[id]))
	copy(result, m.entries[id])
	return result, nil
}

func (m *Memory) Snapshot(_ context.Context, id ledger.AccountID) (ledger.Credits, []ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, ok := m.balances[id]
	if !ok {
		return 0, nil, ledger.ErrAccountNotFound
	}
	entries := make([]ledger.Entry, len(m.entries[id]))
	copy(entries, m.entries[id])
	return balance, entries, nil
}
