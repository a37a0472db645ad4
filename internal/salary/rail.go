package salary

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/deposit"
	"github.com/paysure/paysure/internal/mpesa"
)

// Rail sends money out to a user's phone. mpesa.Client and
// mpesa.StaticGateway both satisfy it.
type Rail interface {
	B2C(ctx context.Context, req mpesa.B2CRequest) (mpesa.B2CResponse, error)
}

// Member is the part of a user profile payouts need.
type Member struct {
	ID          string
	Phone       string
	MonthlyGoal decimal.Decimal
	PayoutDay   int
}

// Members resolves users for salary runs and the scheduler.
type Members interface {
	SalaryMember(ctx context.Context, userID string) (Member, error)
	// MembersDueOn lists active users whose payout day is day.
	MembersDueOn(ctx context.Context, day int) ([]Member, error)
}

// Deposits reads completed deposits for a period.
type Deposits interface {
	CompletedDeposits(ctx context.Context, userID string, from, to time.Time) ([]deposit.Deposit, error)
}
