// Package memory keeps accounts, ledger entries, deposits and payouts in
// process memory. It backs development mode and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paysure/paysure/internal/deposit"
	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/salary"
)

var (
	_ ledger.Store  = (*Store)(nil)
	_ deposit.Store = (*Store)(nil)
	_ salary.Store  = (*Store)(nil)
)

// Store is a concurrency-safe in-memory implementation of the ledger,
// deposit and payout stores. Units of work stage their writes and publish
// them on commit; row locks are held until the unit of work ends.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]ledger.Account
	entries  []ledger.Entry
	deposits map[string]deposit.Deposit
	checkout map[string]string
	payouts  map[string]salary.Payout

	lockMu sync.Mutex
	locks  map[string]chan struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]ledger.Account),
		deposits: make(map[string]deposit.Deposit),
		checkout: make(map[string]string),
		payouts:  make(map[string]salary.Payout),
		locks:    make(map[string]chan struct{}),
	}
}

// CreateAccount opens an account with three zero balances.
func (s *Store) CreateAccount(_ context.Context, userID string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[userID]; exists {
		return ledger.Account{}, ledger.ErrAccountExists
	}
	now := time.Now().UTC()
	account := ledger.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.accounts[userID] = account
	return account, nil
}

func (s *Store) GetAccount(_ context.Context, userID string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[userID]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return account, nil
}

// ListEntries returns matching entries, newest first.
func (s *Store) ListEntries(_ context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Entry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.UserID != filter.UserID {
			continue
		}
		if filter.Wallet != "" && e.Wallet != filter.Wallet {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateDeposit(_ context.Context, d deposit.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deposits[d.ID]; exists {
		return fmt.Errorf("deposit %s already exists", d.ID)
	}
	if d.CheckoutRequestID != "" {
		if _, exists := s.checkout[d.CheckoutRequestID]; exists {
			return fmt.Errorf("checkout request %s already recorded", d.CheckoutRequestID)
		}
		s.checkout[d.CheckoutRequestID] = d.ID
	}
	s.deposits[d.ID] = d
	return nil
}

func (s *Store) GetDeposit(_ context.Context, id string) (deposit.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deposits[id]
	if !ok {
		return deposit.Deposit{}, ledger.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListDeposits(_ context.Context, userID string, offset, limit int) ([]deposit.Deposit, int, error) {
	s.mu.RLock()
	all := make([]deposit.Deposit, 0)
	for _, d := range s.deposits {
		if d.UserID == userID {
			all = append(all, d)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return []deposit.Deposit{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *Store) CompletedDeposits(_ context.Context, userID string, from, to time.Time) ([]deposit.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]deposit.Deposit, 0)
	for _, d := range s.deposits {
		if d.UserID != userID || d.Status != deposit.StatusCompleted {
			continue
		}
		if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetPayout(_ context.Context, id string) (salary.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[id]
	if !ok {
		return salary.Payout{}, ledger.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPayouts(_ context.Context, userID string, limit int) ([]salary.Payout, error) {
	s.mu.RLock()
	out := make([]salary.Payout, 0)
	for _, p := range s.payouts {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		if a.Month != b.Month {
			return a.Month > b.Month
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *Store) InDepositTx(ctx context.Context, fn func(ctx context.Context, tx deposit.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *Store) InPayoutTx(ctx context.Context, fn func(ctx context.Context, tx salary.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

// run commits the staged writes only when fn succeeds and ctx is still live.
// Locks are released on every path.
func (s *Store) run(ctx context.Context, fn func(t *tx) error) error {
	t := newTx(s)
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) lockFor(key string) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// At most one non-failed payout per period.
	for id, p := range t.payouts {
		if p.Status == salary.StatusFailed {
			continue
		}
		for otherID, other := range s.payouts {
			if otherID == id {
				continue
			}
			if staged, ok := t.payouts[otherID]; ok {
				other = staged
			}
			if samePeriod(p, other) && other.Status != salary.StatusFailed {
				return fmt.Errorf("period %d-%02d already has payout %s: %w", p.Year, p.Month, otherID, ledger.ErrAlreadyProcessed)
			}
		}
		for otherID, other := range t.payouts {
			if otherID != id && samePeriod(p, other) && other.Status != salary.StatusFailed {
				return fmt.Errorf("period %d-%02d already has payout %s: %w", p.Year, p.Month, otherID, ledger.ErrAlreadyProcessed)
			}
		}
	}

	for id, account := range t.accounts {
		s.accounts[id] = account
	}
	s.entries = append(s.entries, t.entries...)
	for id, d := range t.deposits {
		s.deposits[id] = d
	}
	for id, p := range t.payouts {
		s.payouts[id] = p
	}
	return nil
}

func samePeriod(a, b salary.Payout) bool {
	return a.UserID == b.UserID && a.Month == b.Month && a.Year == b.Year
}
