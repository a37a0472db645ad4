package salary

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/ledger"
)

// Status is the lifecycle state of a payout.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Payout is one salary disbursement for a (user, month, year) period.
type Payout struct {
	ID                string
	UserID            string
	Month             int
	Year              int
	ExpectedAmount    decimal.Decimal
	ActualPaidAmount  decimal.Decimal
	Status            Status
	ExternalReference string
	FailureReason     string
	// ReseededFrom links a payout created to retry a failed one.
	ReseededFrom string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PaidAt       *time.Time
}

// Tx extends the ledger unit of work with payout row access.
type Tx interface {
	ledger.Tx
	LockPayout(ctx context.Context, id string) (Payout, error)
	InsertPayout(ctx context.Context, p Payout) error
	SavePayout(ctx context.Context, p Payout) error
	// PeriodPayouts returns every payout, failed ones included, recorded for
	// the user's period.
	PeriodPayouts(ctx context.Context, userID string, month, year int) ([]Payout, error)
}

// Store persists payouts.
type Store interface {
	GetPayout(ctx context.Context, id string) (Payout, error)
	// ListPayouts returns the user's payouts, newest period first.
	ListPayouts(ctx context.Context, userID string, limit int) ([]Payout, error)
	InPayoutTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Upcoming describes the next scheduled payout for a user.
type Upcoming struct {
	NextPayoutDate  time.Time
	DaysRemaining   int
	ExpectedSalary  decimal.Decimal
	Goal            decimal.Decimal
	CurrentMonthSum decimal.Decimal
	ProgressPercent decimal.Decimal
	CurrentPayout   *Payout
}
