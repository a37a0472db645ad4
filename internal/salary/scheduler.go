package salary

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/paysure/paysure/internal/ledger"
)

const defaultSchedulerInterval = time.Hour

// Scheduler pays salaries on each user's payout day. Every tick it runs the
// previous calendar month for the users due today and executes the payouts.
// Ticks are idempotent: a computed period is never computed again.
type Scheduler struct {
	service  *Service
	members  Members
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a scheduler. A non-positive interval means hourly.
func NewScheduler(service *Service, members Members, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		service:  service,
		members:  members,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a first tick immediately and then one per interval until Stop
// or ctx is cancelled. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("salary scheduler started", slog.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("salary scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx, s.now())
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx, s.now())
		case <-ctx.Done():
			return
		}
	}
}

// TickResult counts what one tick did.
type TickResult struct {
	Due       int
	Computed  int
	Skipped   int
	Paid      int
	Failed    int
	NoDeposit int
}

// Tick processes the users whose payout day is now's day of the month.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	var res TickResult
	now = now.UTC()
	due, err := s.members.MembersDueOn(ctx, now.Day())
	if err != nil {
		s.logger.Error("list members due for payout", slog.Int("day", now.Day()), slog.String("error", err.Error()))
		return res
	}
	res.Due = len(due)
	month, year := PreviousMonth(now)

	for _, m := range due {
		if ctx.Err() != nil {
			return res
		}
		payout, err := s.service.run(ctx, m.ID, month, year, now)
		switch {
		case errors.Is(err, ledger.ErrAlreadyProcessed):
			res.Skipped++
			// A payout computed by an earlier tick that never got executed.
			payout = s.pendingFor(ctx, m.ID, month, year)
		case err != nil:
			res.Failed++
			s.logger.Error("salary run failed",
				slog.String("user_id", m.ID), slog.Int("month", month), slog.Int("year", year),
				slog.String("error", err.Error()))
			continue
		case payout == nil:
			res.NoDeposit++
			continue
		default:
			res.Computed++
		}
		if payout == nil {
			continue
		}

		if _, err := s.service.Execute(ctx, payout.ID); err != nil {
			if !errors.Is(err, ledger.ErrAlreadyProcessed) {
				res.Failed++
				s.logger.Warn("scheduled payout failed", slog.String("payout_id", payout.ID), slog.String("error", err.Error()))
			}
			continue
		}
		res.Paid++
	}
	if res.Due > 0 {
		s.logger.Info("salary tick finished",
			slog.Int("due", res.Due), slog.Int("computed", res.Computed), slog.Int("paid", res.Paid),
			slog.Int("skipped", res.Skipped), slog.Int("failed", res.Failed))
	}
	return res
}

func (s *Scheduler) pendingFor(ctx context.Context, userID string, month, year int) *Payout {
	payouts, err := s.service.History(ctx, userID, maxHistoryLimit)
	if err != nil {
		return nil
	}
	for i := range payouts {
		p := payouts[i]
		if p.Month == month && p.Year == year && p.Status == StatusPending {
			return &p
		}
	}
	return nil
}
