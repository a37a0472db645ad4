package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/ledger"
)

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

var (
	// ErrUserNotFound also matches ledger.ErrNotFound.
	ErrUserNotFound       = fmt.Errorf("user %w", ledger.ErrNotFound)
	ErrUserExists         = errors.New("phone number already registered")
	ErrInvalidOTP         = errors.New("invalid or expired otp")
	ErrInvalidCredentials = errors.New("invalid phone or PIN")
	ErrDeviceRequired     = errors.New("device binding required")
	ErrDeviceMismatch     = errors.New("device mismatch")
	ErrInvalidProfile     = errors.New("invalid profile")
	ErrSuspended          = errors.New("account suspended")
)

// User represents a registered merchant saving toward a monthly salary.
type User struct {
	ID               string
	Phone            string
	FullName         string
	NationalID       string
	BusinessCategory string
	DailyTarget      decimal.Decimal
	MonthlyGoal      decimal.Decimal
	// PayoutDay is the day of the month, 1 to 28, the salary is paid on.
	PayoutDay    int
	PINHash      []byte
	DeviceID     string
	TokenVersion int
	Status       string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// Credentials request structure.
type Credentials struct {
	Phone    string
	PIN      string
	DeviceID string
}

// Registration carries everything needed to open a PaySure account.
type Registration struct {
	Phone            string
	FullName         string
	NationalID       string
	BusinessCategory string
	DailyTarget      decimal.Decimal
	MonthlyGoal      decimal.Decimal
	PayoutDay        int
	OTP              string
	PIN              string
	DeviceID         string
}
