package carpool_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoride/carpool-engine/carpool"
	"github.com/ecoride/carpool-engine/ledger"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want carpool.Kind
	}{
		{nil, carpool.KindNone},
		{carpool.ErrRideNotFound, carpool.KindNotFound},
		{&carpool.NotFoundError{Entity: "ride", ID: "r1"}, carpool.KindNotFound},
		{fmt.Errorf("wrapped: %w", ledger.ErrAccountNotFound), carpool.KindNotFound},
		{&carpool.TransitionError{Entity: "ride", ID: "r1", From: "completed", Action: "start"}, carpool.KindInvalidTransition},
		{&carpool.InsufficientCreditsError{Available: 1, Requested: 2}, carpool.KindInsufficientCredits},
		{carpool.ErrNoSeatsAvailable, carpool.KindNoSeatsAvailable},
		{carpool.ErrBookingNotCancellable, carpool.KindBookingNotCancellable},
		{carpool.ErrUnknownResolution, carpool.KindInvalidRequest},
		{carpool.ErrDuplicateAccount, carpool.KindInvalidRequest},
		{errors.New("connection reset"), carpool.KindTransactionAborted},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, carpool.KindOf(tt.err))
		})
	}
}

func TestOpenAccount(t *testing.T) {
	f := newFixture(t)
	eng := f.newEngine(f.store, carpool.WithRegistrationCredits(carpool.DefaultRegistrationCredits))

	acc, err := eng.OpenAccount(f.ctx, carpool.NewAccount{
		Pseudo:   "zoe",
		Email:    "  Zoe@Example.com ",
		Password: "correct horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "zoe@example.com", acc.Email)
	assert.Equal(t, carpool.RoleUser, acc.Role)
	assert.Equal(t, ledger.Credits(20), acc.Credits)
	assert.True(t, acc.CheckPassword("correct horse"))
	assert.False(t, acc.CheckPassword("wrong"))
	assert.NotContains(t, acc.PasswordHash, "correct horse")

	entries := f.entries(acc.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryBonus, entries[0].Type)
	assert.Equal(t, ledger.Credits(20), entries[0].Amount)

	_, err = eng.OpenAccount(f.ctx, carpool.NewAccount{Pseudo: "zoe2", Email: "zoe@example.com", Password: "x"})
	assert.ErrorIs(t, err, carpool.ErrDuplicateAccount)

	_, err = eng.OpenAccount(f.ctx, carpool.NewAccount{Pseudo: "nomail", Email: "not-an-email", Password: "x"})
	assert.ErrorIs(t, err, carpool.ErrInvalidRequest)

	byEmail, err := f.store.GetAccountByEmail(f.ctx, "ZOE@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, acc.ID, byEmail.ID)
	f.assertConserved()
}

func TestGrantCredits(t *testing.T) {
	f := newFixture(t)
	id := f.account("bob", 0)

	entry, err := f.engine.GrantCredits(f.ctx, id, 15, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryBonus, entry.Type)
	assert.Equal(t, ledger.RefAdjustment, entry.Reference.Kind)
	assert.Equal(t, ledger.Credits(15), entry.BalanceAfter)
	assert.Equal(t, ledger.Credits(15), f.balance(id))

	_, err = f.engine.GrantCredits(f.ctx, id, 0, "nothing")
	assert.ErrorIs(t, err, carpool.ErrInvalidRequest)
	_, err = f.engine.GrantCredits(f.ctx, id, -5, "claw back")
	assert.ErrorIs(t, err, carpool.ErrInvalidRequest)

	_, err = f.engine.GrantCredits(f.ctx, "ghost", 10, "")
	assert.True(t, carpool.IsNotFound(err))
	f.assertConserved()
}
