package deposit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/ledger"
)

// Status tracks a deposit through its confirmation lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Deposit is a request to bring money in over the payment rail. It credits the
// deposit wallet at most once, when the rail confirms it.
type Deposit struct {
	ID                string
	UserID            string
	Amount            decimal.Decimal
	Phone             string
	Status            Status
	CheckoutRequestID string
	MerchantRequestID string
	ReceiptNumber     string
	ResultCode        *int
	ResultDesc        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// Tx extends the ledger unit of work with deposit row locking so a status
// transition commits together with the credit it triggers.
type Tx interface {
	ledger.Tx
	LockDepositByCheckoutID(ctx context.Context, checkoutRequestID string) (Deposit, error)
	SaveDeposit(ctx context.Context, d Deposit) error
}

// Store persists deposits.
type Store interface {
	CreateDeposit(ctx context.Context, d Deposit) error
	GetDeposit(ctx context.Context, id string) (Deposit, error)
	// ListDeposits returns one page of the user's deposits, newest first, and
	// the total number of deposits the user has.
	ListDeposits(ctx context.Context, userID string, offset, limit int) ([]Deposit, int, error)
	// CompletedDeposits returns completed deposits created in [from, to).
	CompletedDeposits(ctx context.Context, userID string, from, to time.Time) ([]Deposit, error)
	InDepositTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Confirmation is the asynchronous result the payment rail reports for an
// inbound payment request.
type Confirmation struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	// Amount is what the rail reports as paid; zero when it did not say.
	Amount decimal.Decimal
}

// Page is one page of a user's deposit history.
type Page struct {
	Deposits []Deposit
	Total    int
	Page     int
	Limit    int
}

// Stats aggregates completed deposits over a few windows.
type Stats struct {
	TodayTotal  decimal.Decimal
	TodayCount  int
	MonthTotal  decimal.Decimal
	MonthCount  int
	AllTotal    decimal.Decimal
	AllCount    int
	DailyTarget decimal.Decimal

	// TodayProgress is the share of the daily target reached today, capped at 100.
	TodayProgress decimal.Decimal
}
