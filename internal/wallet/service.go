package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/paysure/paysure/internal/ledger"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Service exposes the read side of the ledger: balances and entry history.
// Every mutation goes through ledger.Engine.
type Service struct {
	store ledger.Store
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// Balances returns the user's wallet balances.
func (s *Service) Balances(ctx context.Context, userID string) (Balances, error) {
	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return Balances{}, err
	}
	return Balances{
		UserID:  account.UserID,
		Deposit: account.Deposit,
		Salary:  account.Salary,
		Buffer:  account.Buffer,
		Total:   account.Total(),
		AsOf:    time.Now().UTC(),
	}, nil
}

// History returns ledger entries newest first, optionally for one wallet.
// limit defaults to 50 and is capped at 200.
func (s *Service) History(ctx context.Context, userID string, wallet ledger.Wallet, limit int) ([]ledger.Entry, error) {
	if wallet != "" && !wallet.Valid() {
		return nil, fmt.Errorf("%w: unknown wallet %q", ErrInvalidWallet, wallet)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if _, err := s.store.GetAccount(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, ledger.EntryFilter{UserID: userID, Wallet: wallet, Limit: limit})
}
