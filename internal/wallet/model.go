package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidWallet rejects a history filter that names no wallet.
var ErrInvalidWallet = errors.New("invalid wallet")

// Balances is a point-in-time view of a user's three wallets.
type Balances struct {
	UserID  string
	Deposit decimal.Decimal
	Salary  decimal.Decimal
	Buffer  decimal.Decimal
	Total   decimal.Decimal
	AsOf    time.Time
}
