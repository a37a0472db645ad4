package deposit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paysure/paysure/internal/deposit"
	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/logging"
	"github.com/paysure/paysure/internal/mpesa"
	"github.com/paysure/paysure/internal/notification"
	"github.com/paysure/paysure/internal/store/memory"
)

const userID = "7b1c8a52-2f1e-4f4e-9c55-0a6f0f3f7a11"

type members map[string]deposit.Member

func (m members) DepositMember(_ context.Context, id string) (deposit.Member, error) {
	member, ok := m[id]
	if !ok {
		return deposit.Member{}, ledger.ErrNotFound
	}
	return member, nil
}

type fixture struct {
	svc     *deposit.Service
	store   *memory.Store
	gateway *mpesa.StaticGateway
	outbox  *notification.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	_, err := store.CreateAccount(context.Background(), userID)
	require.NoError(t, err)
	gateway := &mpesa.StaticGateway{}
	outbox := &notification.Recorder{}
	dir := members{userID: {Phone: "254712345678", DailyTarget: decimal.NewFromInt(500)}}
	logger := logging.Discard()
	svc := deposit.NewService(store, ledger.NewEngine(store, logger), gateway, dir, outbox, logger)
	return fixture{svc: svc, store: store, gateway: gateway, outbox: outbox}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRequestDepositPushesAndRecordsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.svc.RequestDeposit(ctx, userID, dec("250"))
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusPending, d.Status)
	assert.NotEmpty(t, d.CheckoutRequestID)

	pushes := f.gateway.Pushes()
	require.Len(t, pushes, 1)
	assert.Equal(t, "254712345678", pushes[0].Phone)
	assert.True(t, pushes[0].Amount.Equal(dec("250")))
	assert.Len(t, pushes[0].AccountReference, 12)

	stored, err := f.store.GetDeposit(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.CheckoutRequestID, stored.CheckoutRequestID)

	account, err := f.store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.True(t, account.Deposit.IsZero(), "pending deposits do not move money")
}

func TestRequestDepositValidatesAmount(t *testing.T) {
	f := newFixture(t)
	for _, amount := range []string{"0", "-5", "10.50", "150001"} {
		_, err := f.svc.RequestDeposit(context.Background(), userID, dec(amount))
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, amount)
	}
	assert.Empty(t, f.gateway.Pushes())
}

func TestRequestDepositRailFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.gateway.STKErr = errors.New("daraja unavailable")

	_, err := f.svc.RequestDeposit(context.Background(), userID, dec("100"))
	assert.ErrorIs(t, err, ledger.ErrExternalTransport)

	page, err := f.svc.List(context.Background(), userID, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestConfirmDepositCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.RequestDeposit(ctx, userID, dec("300"))
	require.NoError(t, err)

	confirmation := deposit.Confirmation{CheckoutRequestID: d.CheckoutRequestID, ResultCode: 0, ReceiptNumber: "QGH12345"}
	confirmed, err := f.svc.ConfirmDeposit(ctx, confirmation)
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusCompleted, confirmed.Status)
	assert.Equal(t, "QGH12345", confirmed.ReceiptNumber)
	require.NotNil(t, confirmed.CompletedAt)

	again, err := f.svc.ConfirmDeposit(ctx, confirmation)
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)
	assert.Equal(t, deposit.StatusCompleted, again.Status)

	account, err := f.store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.True(t, account.Deposit.Equal(dec("300")), "deposit balance %s", account.Deposit)

	entries, err := f.store.ListEntries(ctx, ledger.EntryFilter{UserID: userID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, d.ID, entries[0].ReferenceID)

	msg, ok := f.outbox.Last(notification.KindDepositConfirmed, "254712345678")
	require.True(t, ok)
	assert.Contains(t, msg.Body, "300.00")
}

func TestConcurrentConfirmationsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.RequestDeposit(ctx, userID, dec("120"))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ConfirmDeposit(ctx, deposit.Confirmation{CheckoutRequestID: d.CheckoutRequestID, ReceiptNumber: "R1"})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	account, err := f.store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.True(t, account.Deposit.Equal(dec("120")))
}

func TestFailedConfirmationLeavesLedgerAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.RequestDeposit(ctx, userID, dec("80"))
	require.NoError(t, err)

	failed, err := f.svc.ConfirmDeposit(ctx, deposit.Confirmation{CheckoutRequestID: d.CheckoutRequestID, ResultCode: 1032, ResultDesc: "Request cancelled by user"})
	require.NoError(t, err)
	assert.Equal(t, deposit.StatusFailed, failed.Status)
	require.NotNil(t, failed.ResultCode)
	assert.Equal(t, 1032, *failed.ResultCode)

	// A late success for a failed deposit is ignored.
	_, err = f.svc.ConfirmDeposit(ctx, deposit.Confirmation{CheckoutRequestID: d.CheckoutRequestID, ResultCode: 0})
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	account, err := f.store.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.True(t, account.Total().IsZero())
	entries, err := f.store.ListEntries(ctx, ledger.EntryFilter{UserID: userID})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConfirmUnknownCheckout(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmDeposit(context.Background(), deposit.Confirmation{CheckoutRequestID: "ws_CO_missing"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.svc.RequestDeposit(ctx, userID, dec("10"))
		require.NoError(t, err)
	}

	first, err := f.svc.List(ctx, userID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Total)
	assert.Len(t, first.Deposits, 2)

	last, err := f.svc.List(ctx, userID, 3, 2)
	require.NoError(t, err)
	assert.Len(t, last.Deposits, 1)

	clamped, err := f.svc.List(ctx, userID, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, clamped.Page)
	assert.Equal(t, 100, clamped.Limit)
}

func TestStatsBucketsCompletedDeposits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := func(id string, amount string, created time.Time, status deposit.Status) {
		require.NoError(t, f.store.CreateDeposit(ctx, deposit.Deposit{
			ID: id, UserID: userID, Amount: dec(amount), Status: status,
			CheckoutRequestID: "ws_" + id, CreatedAt: created, UpdatedAt: created,
		}))
	}
	seed("a", "200", now, deposit.StatusCompleted)
	seed("b", "100", now, deposit.StatusCompleted)
	seed("c", "999", now, deposit.StatusFailed)
	seed("d", "50", now.AddDate(-1, 0, 0), deposit.StatusCompleted)

	stats, err := f.svc.Stats(ctx, userID, now)
	require.NoError(t, err)
	assert.True(t, stats.TodayTotal.Equal(dec("300")))
	assert.Equal(t, 2, stats.TodayCount)
	assert.True(t, stats.MonthTotal.Equal(dec("300")))
	assert.True(t, stats.AllTotal.Equal(dec("350")))
	assert.Equal(t, 3, stats.AllCount)
	assert.Equal(t, "60.00", stats.TodayProgress.StringFixed(2))
}
