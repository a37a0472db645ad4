package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/mpesa"
	"github.com/paysure/paysure/internal/notification"
)

const (
	defaultGatewayTimeout = 30 * time.Second
	defaultPageSize       = 20
	maxPageSize           = 100
)

// MaxAmount is the largest single STK push Daraja accepts.
var MaxAmount = decimal.NewFromInt(150000)

// Service runs the deposit lifecycle: an STK push creates a pending deposit
// and the rail's confirmation settles it exactly once.
type Service struct {
	store    Store
	engine   *ledger.Engine
	gateway  Gateway
	members  Members
	notifier notification.Notifier
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewService wires the deposit lifecycle.
func NewService(store Store, engine *ledger.Engine, gateway Gateway, members Members, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	return &Service{
		store:    store,
		engine:   engine,
		gateway:  gateway,
		members:  members,
		notifier: notifier,
		logger:   logger,
		timeout:  defaultGatewayTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithGatewayTimeout bounds each STK push call.
func (s *Service) WithGatewayTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// RequestDeposit pushes a payment prompt to the user's phone and records the
// pending deposit under the checkout id the rail returned. Nothing is stored
// when the push is rejected.
func (s *Service) RequestDeposit(ctx context.Context, userID string, amount decimal.Decimal) (Deposit, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return Deposit{}, err
	}
	if !amount.Equal(amount.Truncate(0)) {
		return Deposit{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, mpesa.ErrWholeAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return Deposit{}, fmt.Errorf("%w: at most %s per deposit", ledger.ErrInvalidAmount, MaxAmount)
	}

	member, err := s.members.DepositMember(ctx, userID)
	if err != nil {
		return Deposit{}, err
	}

	id := uuid.NewString()
	pushCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.gateway.STKPush(pushCtx, mpesa.STKRequest{
		Phone:            member.Phone,
		Amount:           amount,
		AccountReference: accountReference(id),
		Description:      "PaySure deposit",
	})
	if err != nil {
		s.logger.WarnContext(ctx, "stk push failed",
			slog.String("user_id", userID),
			slog.String("deposit_id", id),
			slog.String("error", err.Error()))
		return Deposit{}, fmt.Errorf("%w: stk push: %v", ledger.ErrExternalTransport, err)
	}

	now := s.now()
	d := Deposit{
		ID:                id,
		UserID:            userID,
		Amount:            amount,
		Phone:             member.Phone,
		Status:            StatusPending,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateDeposit(ctx, d); err != nil {
		// The prompt is already on the phone; its callback will be acked as unknown.
		s.logger.ErrorContext(ctx, "record deposit after stk push",
			slog.String("deposit_id", id),
			slog.String("checkout_request_id", resp.CheckoutRequestID),
			slog.String("error", err.Error()))
		return Deposit{}, err
	}

	s.logger.InfoContext(ctx, "deposit requested",
		slog.String("user_id", userID),
		slog.String("deposit_id", id),
		slog.String("amount", ledger.Format(amount)),
		slog.String("checkout_request_id", resp.CheckoutRequestID))
	return d, nil
}

// ConfirmDeposit applies the rail's result to the pending deposit. Result
// code 0 completes it and credits the deposit wallet in the same unit of
// work; any other code fails it without touching the ledger. A deposit that
// already reached a terminal state is returned unchanged with
// ledger.ErrAlreadyProcessed.
func (s *Service) ConfirmDeposit(ctx context.Context, c Confirmation) (Deposit, error) {
	var out Deposit
	err := s.store.InDepositTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.LockDepositByCheckoutID(ctx, c.CheckoutRequestID)
		if err != nil {
			return err
		}
		if d.Status.Terminal() {
			out = d
			return ledger.ErrAlreadyProcessed
		}

		now := s.now()
		code := c.ResultCode
		d.ResultCode = &code
		d.ResultDesc = c.ResultDesc
		d.UpdatedAt = now
		if code == 0 {
			d.Status = StatusCompleted
			d.ReceiptNumber = c.ReceiptNumber
			d.CompletedAt = &now
			if _, err := s.engine.CreditDepositTx(ctx, tx, d.UserID, d.Amount, d.ID); err != nil {
				return err
			}
		} else {
			d.Status = StatusFailed
		}
		if err := tx.SaveDeposit(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})

	switch {
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		s.logger.InfoContext(ctx, "duplicate deposit confirmation ignored",
			slog.String("deposit_id", out.ID),
			slog.String("checkout_request_id", c.CheckoutRequestID),
			slog.String("status", string(out.Status)))
		return out, err
	case err != nil:
		return Deposit{}, err
	}

	if out.Status == StatusCompleted {
		if !c.Amount.IsZero() && !c.Amount.Equal(out.Amount) {
			s.logger.WarnContext(ctx, "rail amount differs from requested amount",
				slog.String("deposit_id", out.ID),
				slog.String("requested", ledger.Format(out.Amount)),
				slog.String("reported", ledger.Format(c.Amount)))
		}
		s.logger.InfoContext(ctx, "deposit confirmed",
			slog.String("deposit_id", out.ID),
			slog.String("user_id", out.UserID),
			slog.String("amount", ledger.Format(out.Amount)),
			slog.String("receipt", out.ReceiptNumber))
		s.notify(ctx, out)
	} else {
		s.logger.InfoContext(ctx, "deposit failed",
			slog.String("deposit_id", out.ID),
			slog.Int("result_code", c.ResultCode),
			slog.String("result_desc", c.ResultDesc))
	}
	return out, nil
}

// Get returns one of the user's deposits.
func (s *Service) Get(ctx context.Context, userID, id string) (Deposit, error) {
	d, err := s.store.GetDeposit(ctx, id)
	if err != nil {
		return Deposit{}, err
	}
	if d.UserID != userID {
		return Deposit{}, ledger.ErrNotFound
	}
	return d, nil
}

// List returns one page of the user's deposits, newest first. Pages start at 1.
func (s *Service) List(ctx context.Context, userID string, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	deposits, total, err := s.store.ListDeposits(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return Page{}, err
	}
	return Page{Deposits: deposits, Total: total, Page: page, Limit: limit}, nil
}

// Stats totals completed deposits for today, the current month and all time.
// Days and months are UTC calendar periods.
func (s *Service) Stats(ctx context.Context, userID string, now time.Time) (Stats, error) {
	member, err := s.members.DepositMember(ctx, userID)
	if err != nil {
		return Stats{}, err
	}

	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	completed, err := s.store.CompletedDeposits(ctx, userID, time.Unix(0, 0).UTC(), dayEnd)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TodayTotal:    decimal.Zero,
		MonthTotal:    decimal.Zero,
		AllTotal:      decimal.Zero,
		DailyTarget:   member.DailyTarget,
		TodayProgress: decimal.Zero,
	}
	for _, d := range completed {
		stats.AllTotal = stats.AllTotal.Add(d.Amount)
		stats.AllCount++
		if !d.CreatedAt.Before(monthStart) {
			stats.MonthTotal = stats.MonthTotal.Add(d.Amount)
			stats.MonthCount++
		}
		if !d.CreatedAt.Before(dayStart) {
			stats.TodayTotal = stats.TodayTotal.Add(d.Amount)
			stats.TodayCount++
		}
	}
	if member.DailyTarget.IsPositive() {
		stats.TodayProgress = decimal.Min(
			stats.TodayTotal.Div(member.DailyTarget).Mul(decimal.NewFromInt(100)),
			decimal.NewFromInt(100),
		).Round(2)
	}
	return stats, nil
}

func (s *Service) notify(ctx context.Context, d Deposit) {
	err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindDepositConfirmed,
		Destination: d.Phone,
		Body:        fmt.Sprintf("PaySure: KES %s received. Ref %s.", ledger.Format(d.Amount), d.ReceiptNumber),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "deposit notification failed", slog.String("deposit_id", d.ID), slog.String("error", err.Error()))
	}
}

// accountReference fits the deposit id into Daraja's 12 character
// AccountReference field.
func accountReference(id string) string {
	return "PS" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:10])
}
