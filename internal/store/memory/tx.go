package memory

import (
	"context"
	"fmt"

	"github.com/paysure/paysure/internal/deposit"
	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/salary"
)

// tx is one unit of work. Reads see staged writes first, then committed state.
type tx struct {
	store *Store
	held  map[string]chan struct{}

	accounts map[string]ledger.Account
	entries  []ledger.Entry
	deposits map[string]deposit.Deposit
	payouts  map[string]salary.Payout
}

func newTx(s *Store) *tx {
	return &tx{
		store:    s,
		held:     make(map[string]chan struct{}),
		accounts: make(map[string]ledger.Account),
		deposits: make(map[string]deposit.Deposit),
		payouts:  make(map[string]salary.Payout),
	}
}

func accountKey(userID string) string { return "account:" + userID }
func depositKey(id string) string     { return "deposit:" + id }
func payoutKey(id string) string      { return "payout:" + id }

// lock blocks until the row lock is free or ctx ends. Locks are reentrant
// within one unit of work.
func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.store.lockFor(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) release() {
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

func (t *tx) requireLock(key string) error {
	if _, ok := t.held[key]; !ok {
		return fmt.Errorf("write to %s without holding its lock", key)
	}
	return nil
}

func (t *tx) LockAccount(ctx context.Context, userID string) (ledger.Account, error) {
	if err := t.lock(ctx, accountKey(userID)); err != nil {
		return ledger.Account{}, err
	}
	if account, ok := t.accounts[userID]; ok {
		return account, nil
	}
	return t.store.GetAccount(ctx, userID)
}

func (t *tx) SaveAccount(_ context.Context, account ledger.Account) error {
	if err := t.requireLock(accountKey(account.UserID)); err != nil {
		return err
	}
	if account.Deposit.IsNegative() || account.Salary.IsNegative() || account.Buffer.IsNegative() {
		return fmt.Errorf("account %s: balances must not be negative", account.UserID)
	}
	t.accounts[account.UserID] = account
	return nil
}

func (t *tx) AppendEntry(_ context.Context, entry ledger.Entry) error {
	if err := t.requireLock(accountKey(entry.UserID)); err != nil {
		return err
	}
	t.entries = append(t.entries, entry)
	return nil
}

func (t *tx) LockDepositByCheckoutID(ctx context.Context, checkoutRequestID string) (deposit.Deposit, error) {
	t.store.mu.RLock()
	id, ok := t.store.checkout[checkoutRequestID]
	t.store.mu.RUnlock()
	if !ok {
		return deposit.Deposit{}, ledger.ErrNotFound
	}
	if err := t.lock(ctx, depositKey(id)); err != nil {
		return deposit.Deposit{}, err
	}
	if d, ok := t.deposits[id]; ok {
		return d, nil
	}
	return t.store.GetDeposit(ctx, id)
}

func (t *tx) SaveDeposit(_ context.Context, d deposit.Deposit) error {
	if err := t.requireLock(depositKey(d.ID)); err != nil {
		return err
	}
	t.deposits[d.ID] = d
	return nil
}

func (t *tx) LockPayout(ctx context.Context, id string) (salary.Payout, error) {
	if err := t.lock(ctx, payoutKey(id)); err != nil {
		return salary.Payout{}, err
	}
	if p, ok := t.payouts[id]; ok {
		return p, nil
	}
	return t.store.GetPayout(ctx, id)
}

func (t *tx) InsertPayout(ctx context.Context, p salary.Payout) error {
	if _, ok := t.payouts[p.ID]; ok {
		return fmt.Errorf("payout %s already staged", p.ID)
	}
	if _, err := t.store.GetPayout(ctx, p.ID); err == nil {
		return fmt.Errorf("payout %s already exists", p.ID)
	}
	// A fresh row is invisible to others until commit; take its lock so
	// later writes in this unit of work pass requireLock.
	if err := t.lock(ctx, payoutKey(p.ID)); err != nil {
		return err
	}
	t.payouts[p.ID] = p
	return nil
}

func (t *tx) SavePayout(_ context.Context, p salary.Payout) error {
	if err := t.requireLock(payoutKey(p.ID)); err != nil {
		return err
	}
	t.payouts[p.ID] = p
	return nil
}

func (t *tx) PeriodPayouts(_ context.Context, userID string, month, year int) ([]salary.Payout, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	out := make([]salary.Payout, 0)
	for id, p := range t.store.payouts {
		if staged, ok := t.payouts[id]; ok {
			p = staged
		}
		if p.UserID == userID && p.Month == month && p.Year == year {
			out = append(out, p)
		}
	}
	for id, p := range t.payouts {
		if _, committed := t.store.payouts[id]; committed {
			continue
		}
		if p.UserID == userID && p.Month == month && p.Year == year {
			out = append(out, p)
		}
	}
	return out, nil
}
