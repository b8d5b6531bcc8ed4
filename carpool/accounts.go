package carpool

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecoride/carpool-engine/ledger"
)

// NewAccount is the input for OpenAccount.
type NewAccount struct {
	Pseudo   string
	Email    string
	Password string
	Role     Role
}

// OpenAccount registers a user and grants the registration bonus. The account
// row starts at zero and the bonus goes through the ledger, so the balance
// matches the ledger from the first entry.
func (e *Engine) OpenAccount(ctx context.Context, in NewAccount) (*Account, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Pseudo = strings.TrimSpace(in.Pseudo)
	if in.Pseudo == "" || in.Email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: pseudo, email and password are required", ErrInvalidRequest)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, fmt.Errorf("%w: invalid email %q", ErrInvalidRequest, in.Email)
	}
	if in.Role == "" {
		in.Role = RoleUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	acc := Account{
		ID:           ledger.AccountID(uuid.NewString()),
		Pseudo:       in.Pseudo,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		CreatedAt:    e.now().UTC(),
	}

	err = e.run(ctx, "open account", ErrTransactionAborted, func(tx Tx) error {
		if err := tx.InsertAccount(ctx, acc); err != nil {
			return err
		}
		entry, err := ledger.New(tx).Post(ctx, ledger.Posting{
			AccountID:   acc.ID,
			Amount:      e.initialCredits,
			Type:        ledger.EntryBonus,
			Reference:   ledger.Reference{Kind: ledger.RefRegistration, ID: string(acc.ID)},
			Description: "Registration bonus",
		})
		if err != nil {
			return err
		}
		acc.Credits = entry.BalanceAfter
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("account opened", "account_id", acc.ID, "role", acc.Role, "credits", acc.Credits)
	return &acc, nil
}

// GrantCredits adds amount to an account as a bonus entry. It is the only
// way to fund an account besides registration.
func (e *Engine) GrantCredits(ctx context.Context, accountID ledger.AccountID, amount ledger.Credits, reason string) (*ledger.Entry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: grant must be positive, got %d", ErrInvalidRequest, amount)
	}
	if reason == "" {
		reason = "Credit adjustment"
	}

	var entry ledger.Entry
	err := e.run(ctx, "grant credits", ErrTransactionAborted, func(tx Tx) error {
		if _, err := e.loadAccount(ctx, tx, accountID); err != nil {
			return err
		}
		var err error
		entry, err = ledger.New(tx).Post(ctx, ledger.Posting{
			AccountID:   accountID,
			Amount:      amount,
			Type:        ledger.EntryBonus,
			Reference:   ledger.Reference{Kind: ledger.RefAdjustment},
			Description: reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("credits granted", "account_id", accountID, "amount", amount, "balance", entry.BalanceAfter)
	return &entry, nil
}

// CheckPassword reports whether password matches the account's hash.
func (a *Account) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}
