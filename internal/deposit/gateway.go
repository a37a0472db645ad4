package deposit

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/mpesa"
)

// Gateway initiates inbound payments on the mobile-money rail. mpesa.Client
// and mpesa.StaticGateway both satisfy it.
type Gateway interface {
	STKPush(ctx context.Context, req mpesa.STKRequest) (mpesa.STKResponse, error)
}

// Member is the part of a user profile deposits need.
type Member struct {
	Phone       string
	DailyTarget decimal.Decimal
}

// Members resolves users to their payment profile.
type Members interface {
	DepositMember(ctx context.Context, userID string) (Member, error)
}
