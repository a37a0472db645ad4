package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paysure/paysure/internal/deposit"
	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/salary"
)

func TestInTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateAccount(ctx, "u1")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acct, err := tx.LockAccount(ctx, "u1")
		if err != nil {
			return err
		}
		acct.Deposit = decimal.NewFromInt(100)
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, ledger.Entry{ID: "e1", UserID: "u1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.Deposit.IsZero())
	entries, err := s.ListEntries(ctx, ledger.EntryFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInTxDoesNotCommitAfterCancel(t *testing.T) {
	s := New()
	_, err := s.CreateAccount(context.Background(), "u1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	err = s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		acct, err := tx.LockAccount(ctx, "u1")
		if err != nil {
			return err
		}
		acct.Salary = decimal.NewFromInt(5)
		cancel()
		return tx.SaveAccount(ctx, acct)
	})
	require.ErrorIs(t, err, context.Canceled)

	acct, err := s.GetAccount(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, acct.Salary.IsZero())
}

func TestLockWaitHonoursContext(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateAccount(ctx, "u1")
	require.NoError(t, err)

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			if _, err := tx.LockAccount(ctx, "u1"); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = s.InTx(waitCtx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.LockAccount(ctx, "u1")
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(done)
	err = s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.LockAccount(ctx, "u1")
		return err
	})
	require.NoError(t, err)
}

func TestSaveWithoutLockIsRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct, err := s.CreateAccount(ctx, "u1")
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.SaveAccount(ctx, acct)
	})
	require.Error(t, err)
}

func TestSecondActivePayoutForPeriodIsRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	insert := func(id string, status salary.Status) error {
		return s.InPayoutTx(ctx, func(ctx context.Context, tx salary.Tx) error {
			return tx.InsertPayout(ctx, salary.Payout{ID: id, UserID: "u1", Month: 3, Year: 2025, Status: status})
		})
	}

	require.NoError(t, insert("p1", salary.StatusFailed))
	require.NoError(t, insert("p2", salary.StatusPending))
	require.ErrorIs(t, insert("p3", salary.StatusPending), ledger.ErrAlreadyProcessed)

	payouts, err := s.ListPayouts(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, payouts, 2)
}

func TestCompletedDepositsWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	march := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	add := func(id string, at time.Time, status deposit.Status) {
		require.NoError(t, s.CreateDeposit(ctx, deposit.Deposit{
			ID: id, UserID: "u1", Amount: decimal.NewFromInt(10), Status: status,
			CheckoutRequestID: "ws_" + id, CreatedAt: at,
		}))
	}
	add("d1", march.Add(-time.Second), deposit.StatusCompleted)
	add("d2", march, deposit.StatusCompleted)
	add("d3", march.AddDate(0, 0, 10), deposit.StatusFailed)
	add("d4", march.AddDate(0, 1, 0).Add(-time.Second), deposit.StatusCompleted)
	add("d5", march.AddDate(0, 1, 0), deposit.StatusCompleted)

	got, err := s.CompletedDeposits(ctx, "u1", march, march.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d2", got[0].ID)
	assert.Equal(t, "d4", got[1].ID)

	page, total, err := s.ListDeposits(ctx, "u1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "d4", page[0].ID)
}
