package salary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/mpesa"
	"github.com/paysure/paysure/internal/notification"
)

const (
	defaultPayoutTimeout = 30 * time.Second
	defaultHistoryLimit  = 12
	maxHistoryLimit      = 120
	// settleTimeout bounds the bookkeeping write after a rail call, which
	// must happen even when the caller has gone away.
	settleTimeout = 10 * time.Second
)

// Service computes monthly salaries and drives payouts through
// pending -> processing -> completed | failed.
type Service struct {
	store    Store
	deposits Deposits
	engine   *ledger.Engine
	rail     Rail
	members  Members
	notifier notification.Notifier
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewService wires salary computation and payout execution.
func NewService(store Store, deposits Deposits, engine *ledger.Engine, rail Rail, members Members, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	return &Service{
		store:    store,
		deposits: deposits,
		engine:   engine,
		rail:     rail,
		members:  members,
		notifier: notifier,
		logger:   logger,
		timeout:  defaultPayoutTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithPayoutTimeout bounds each outbound rail call. A timeout fails the payout.
func (s *Service) WithPayoutTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithClock replaces the time source used to decide whether a period has
// ended and to stamp payouts.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = func() time.Time { return now().UTC() }
	}
	return s
}

// Run computes the salary for (userID, month, year). It moves the salary
// from the deposit wallet to the salary wallet, any excess to the buffer
// wallet, and records a pending payout, all in one unit of work. A month
// with no completed deposits is a no-op and returns (nil, nil). A period
// that already has a payout, failed or not, returns ledger.ErrAlreadyProcessed.
// Only ended months can be run; the current or a future month returns
// ErrPeriodOpen.
func (s *Service) Run(ctx context.Context, userID string, month, year int) (*Payout, error) {
	return s.run(ctx, userID, month, year, s.now())
}

// run is Run with the period checked against asOf, so the scheduler can
// judge periods by its tick time.
func (s *Service) run(ctx context.Context, userID string, month, year int, asOf time.Time) (*Payout, error) {
	from, to, err := Period(month, year)
	if err != nil {
		return nil, err
	}
	if to.After(asOf.UTC()) {
		return nil, fmt.Errorf("%w: %d-%02d ends %s", ErrPeriodOpen, year, month, to.Format(time.DateOnly))
	}
	member, err := s.members.SalaryMember(ctx, userID)
	if err != nil {
		return nil, err
	}

	var (
		created *Payout
		comp    Computation
	)
	err = s.store.InPayoutTx(ctx, func(ctx context.Context, tx Tx) error {
		created = nil
		// The account lock serialises runs for the same user and with
		// deposit confirmations, so the sum below matches the wallet.
		if _, err := tx.LockAccount(ctx, userID); err != nil {
			return err
		}
		existing, err := tx.PeriodPayouts(ctx, userID, month, year)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("salary for %d-%02d: %w", year, month, ledger.ErrAlreadyProcessed)
		}

		completed, err := s.deposits.CompletedDeposits(ctx, userID, from, to)
		if err != nil {
			return err
		}
		comp = Compute(completed, member.MonthlyGoal)
		if !comp.Salary.IsPositive() {
			return nil
		}

		now := s.now()
		p := Payout{
			ID:               uuid.NewString(),
			UserID:           userID,
			Month:            month,
			Year:             year,
			ExpectedAmount:   comp.Salary,
			ActualPaidAmount: decimal.Zero,
			Status:           StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		note := fmt.Sprintf("Salary for %d-%02d", year, month)
		if _, err := s.engine.TransferDepositToSalaryTx(ctx, tx, userID, comp.Salary, p.ID, note); err != nil {
			return err
		}
		if comp.Excess.IsPositive() {
			excessNote := fmt.Sprintf("Excess for %d-%02d", year, month)
			if _, err := s.engine.TransferDepositToBufferTx(ctx, tx, userID, comp.Excess, p.ID, excessNote); err != nil {
				return err
			}
		}
		if err := tx.InsertPayout(ctx, p); err != nil {
			return err
		}
		created = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created == nil {
		s.logger.Info("salary run skipped, nothing deposited",
			slog.String("user_id", userID), slog.Int("month", month), slog.Int("year", year))
		return nil, nil
	}
	s.logger.Info("salary computed",
		slog.String("user_id", userID),
		slog.String("payout_id", created.ID),
		slog.Int("month", month),
		slog.Int("year", year),
		slog.String("salary", ledger.Format(comp.Salary)),
		slog.String("excess", ledger.Format(comp.Excess)))
	return created, nil
}

// Execute pays out a pending payout. The payout is marked processing before
// the rail is called; the salary wallet is debited only after the rail
// accepts. A rail error or timeout fails the payout and returns
// ledger.ErrExternalTransport. Executing any payout that is not pending
// returns it unchanged with ledger.ErrAlreadyProcessed.
func (s *Service) Execute(ctx context.Context, payoutID string) (Payout, error) {
	current, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return Payout{}, err
	}
	member, err := s.members.SalaryMember(ctx, current.UserID)
	if err != nil {
		return Payout{}, err
	}

	var p Payout
	err = s.store.InPayoutTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		p = locked
		if locked.Status != StatusPending {
			return ledger.ErrAlreadyProcessed
		}
		locked.Status = StatusProcessing
		locked.UpdatedAt = s.now()
		if err := tx.SavePayout(ctx, locked); err != nil {
			return err
		}
		p = locked
		return nil
	})
	if errors.Is(err, ledger.ErrAlreadyProcessed) {
		return p, err
	}
	if err != nil {
		return Payout{}, err
	}
	s.logger.Info("payout processing", slog.String("payout_id", p.ID), slog.String("user_id", p.UserID))

	railCtx, cancel := context.WithTimeout(ctx, s.timeout)
	resp, railErr := s.rail.B2C(railCtx, mpesa.B2CRequest{
		Phone:    member.Phone,
		Amount:   p.ExpectedAmount,
		Remarks:  fmt.Sprintf("PaySure salary %d-%02d", p.Year, p.Month),
		Occasion: p.ID,
	})
	cancel()

	// The state after a rail call has to be recorded even if ctx is done.
	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer settleCancel()

	if railErr != nil {
		failed, err := s.fail(settleCtx, p.ID, "", railErr.Error())
		if err != nil {
			return Payout{}, err
		}
		s.logger.Warn("payout failed at rail",
			slog.String("payout_id", p.ID),
			slog.String("user_id", p.UserID),
			slog.String("error", railErr.Error()))
		s.notify(settleCtx, notification.KindPayoutFailed, member.Phone, failed)
		return failed, fmt.Errorf("%w: b2c: %v", ledger.ErrExternalTransport, railErr)
	}

	completed, err := s.complete(settleCtx, p.ID, resp.ConversationID)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		// The rail took the money but the wallet cannot cover it.
		s.logger.Error("bookkeeping inconsistency: payout sent but salary wallet short",
			slog.String("payout_id", p.ID),
			slog.String("user_id", p.UserID),
			slog.String("external_reference", resp.ConversationID),
			slog.String("amount", ledger.Format(p.ExpectedAmount)))
		failed, failErr := s.fail(settleCtx, p.ID, resp.ConversationID, "salary wallet short after payout was sent")
		if failErr != nil {
			return Payout{}, failErr
		}
		return failed, err
	}
	if err != nil {
		s.logger.Error("record completed payout",
			slog.String("payout_id", p.ID),
			slog.String("external_reference", resp.ConversationID),
			slog.String("error", err.Error()))
		return Payout{}, err
	}

	s.logger.Info("payout completed",
		slog.String("payout_id", completed.ID),
		slog.String("user_id", completed.UserID),
		slog.String("amount", ledger.Format(completed.ActualPaidAmount)),
		slog.String("external_reference", completed.ExternalReference))
	s.notify(settleCtx, notification.KindPayoutCompleted, member.Phone, completed)
	return completed, nil
}

func (s *Service) complete(ctx context.Context, payoutID, reference string) (Payout, error) {
	var out Payout
	err := s.store.InPayoutTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if p.Status != StatusProcessing {
			return fmt.Errorf("payout %s is %s: %w", p.ID, p.Status, ledger.ErrAlreadyProcessed)
		}
		if _, err := s.engine.DebitSalaryForPayoutTx(ctx, tx, p.UserID, p.ExpectedAmount, p.ID); err != nil {
			return err
		}
		now := s.now()
		p.Status = StatusCompleted
		p.ActualPaidAmount = p.ExpectedAmount
		p.ExternalReference = reference
		p.PaidAt = &now
		p.UpdatedAt = now
		if err := tx.SavePayout(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *Service) fail(ctx context.Context, payoutID, reference, reason string) (Payout, error) {
	var out Payout
	err := s.store.InPayoutTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if p.Status != StatusProcessing {
			return fmt.Errorf("payout %s is %s: %w", p.ID, p.Status, ledger.ErrAlreadyProcessed)
		}
		p.Status = StatusFailed
		p.ExternalReference = reference
		p.FailureReason = reason
		p.UpdatedAt = s.now()
		if err := tx.SavePayout(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		s.logger.Error("record failed payout", slog.String("payout_id", payoutID), slog.String("error", err.Error()))
	}
	return out, err
}

// Reseed creates a new pending payout for the period of a failed one. No
// money moves: the salary is still in the salary wallet.
func (s *Service) Reseed(ctx context.Context, failedID string) (Payout, error) {
	var created Payout
	err := s.store.InPayoutTx(ctx, func(ctx context.Context, tx Tx) error {
		failed, err := tx.LockPayout(ctx, failedID)
		if err != nil {
			return err
		}
		if failed.Status != StatusFailed {
			return fmt.Errorf("payout %s is %s, only failed payouts can be reseeded: %w", failed.ID, failed.Status, ledger.ErrAlreadyProcessed)
		}
		account, err := tx.LockAccount(ctx, failed.UserID)
		if err != nil {
			return err
		}
		period, err := tx.PeriodPayouts(ctx, failed.UserID, failed.Month, failed.Year)
		if err != nil {
			return err
		}
		for _, p := range period {
			if p.Status != StatusFailed {
				return fmt.Errorf("period %d-%02d already has payout %s: %w", failed.Year, failed.Month, p.ID, ledger.ErrAlreadyProcessed)
			}
		}
		if account.Salary.LessThan(failed.ExpectedAmount) {
			return fmt.Errorf("salary wallet holds %s, need %s: %w",
				ledger.Format(account.Salary), ledger.Format(failed.ExpectedAmount), ledger.ErrInsufficientFunds)
		}

		now := s.now()
		created = Payout{
			ID:               uuid.NewString(),
			UserID:           failed.UserID,
			Month:            failed.Month,
			Year:             failed.Year,
			ExpectedAmount:   failed.ExpectedAmount,
			ActualPaidAmount: decimal.Zero,
			Status:           StatusPending,
			ReseededFrom:     failed.ID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return tx.InsertPayout(ctx, created)
	})
	if err != nil {
		return Payout{}, err
	}
	s.logger.Info("payout reseeded", slog.String("payout_id", created.ID), slog.String("reseeded_from", failedID))
	return created, nil
}

// Get returns one of the user's payouts.
func (s *Service) Get(ctx context.Context, userID, payoutID string) (Payout, error) {
	p, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return Payout{}, err
	}
	if p.UserID != userID {
		return Payout{}, ledger.ErrNotFound
	}
	return p, nil
}

// History returns the user's payouts, newest period first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Payout, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.store.ListPayouts(ctx, userID, limit)
}

// Upcoming projects the next payout date and the salary earned so far this
// month.
func (s *Service) Upcoming(ctx context.Context, userID string, now time.Time) (Upcoming, error) {
	member, err := s.members.SalaryMember(ctx, userID)
	if err != nil {
		return Upcoming{}, err
	}
	now = now.UTC()
	month, year := int(now.Month()), now.Year()
	from, to, err := Period(month, year)
	if err != nil {
		return Upcoming{}, err
	}
	completed, err := s.deposits.CompletedDeposits(ctx, userID, from, to)
	if err != nil {
		return Upcoming{}, err
	}
	comp := Compute(completed, member.MonthlyGoal)

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	next := time.Date(now.Year(), now.Month(), member.PayoutDay, 0, 0, 0, 0, time.UTC)
	if next.Before(today) {
		next = next.AddDate(0, 1, 0)
	}

	up := Upcoming{
		NextPayoutDate:  next,
		DaysRemaining:   int(next.Sub(today).Hours() / 24),
		ExpectedSalary:  comp.Salary,
		Goal:            member.MonthlyGoal,
		CurrentMonthSum: comp.Sum,
		ProgressPercent: decimal.Zero,
	}
	if member.MonthlyGoal.IsPositive() {
		up.ProgressPercent = comp.Sum.Div(member.MonthlyGoal).Mul(decimal.NewFromInt(100)).Round(2)
	}

	payouts, err := s.store.ListPayouts(ctx, userID, 3)
	if err != nil {
		return Upcoming{}, err
	}
	for i := range payouts {
		if payouts[i].Month == month && payouts[i].Year == year {
			up.CurrentPayout = &payouts[i]
			break
		}
	}
	return up, nil
}

func (s *Service) notify(ctx context.Context, kind, phone string, p Payout) {
	body := fmt.Sprintf("PaySure: salary of KES %s for %d-%02d sent. Ref %s.",
		ledger.Format(p.ActualPaidAmount), p.Year, p.Month, p.ExternalReference)
	if kind == notification.KindPayoutFailed {
		body = fmt.Sprintf("PaySure: salary payout for %d-%02d did not go through. Your money is safe in your salary wallet.", p.Year, p.Month)
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: phone, Body: body}); err != nil {
		s.logger.Warn("payout notification failed", slog.String("payout_id", p.ID), slog.String("error", err.Error()))
	}
}
