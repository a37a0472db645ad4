package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet identifies one of the three segregated balances of an account.
type Wallet string

const (
	WalletDeposit Wallet = "deposit"
	WalletSalary  Wallet = "salary"
	WalletBuffer  Wallet = "buffer"
)

// Valid reports whether w names a known wallet.
func (w Wallet) Valid() bool {
	switch w {
	case WalletDeposit, WalletSalary, WalletBuffer:
		return true
	}
	return false
}

// EntryType classifies the operation that produced a ledger entry.
type EntryType string

const (
	EntryDeposit        EntryType = "deposit"
	EntrySalaryTransfer EntryType = "salary_transfer"
	EntryBufferTransfer EntryType = "buffer_transfer"
	EntryPayout         EntryType = "payout"
)

// Direction tells whether an entry added to or removed from its wallet.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Account holds the three balances owned by a single user.
type Account struct {
	UserID    string
	Deposit   decimal.Decimal
	Salary    decimal.Decimal
	Buffer    decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance returns the balance of the given wallet.
func (a Account) Balance(w Wallet) decimal.Decimal {
	switch w {
	case WalletSalary:
		return a.Salary
	case WalletBuffer:
		return a.Buffer
	default:
		return a.Deposit
	}
}

// withBalance returns a copy of the account with wallet w set to v.
func (a Account) withBalance(w Wallet, v decimal.Decimal) Account {
	switch w {
	case WalletSalary:
		a.Salary = v
	case WalletBuffer:
		a.Buffer = v
	default:
		a.Deposit = v
	}
	return a
}

// Total sums all three wallets.
func (a Account) Total() decimal.Decimal {
	return a.Deposit.Add(a.Salary).Add(a.Buffer)
}

// Entry is an immutable audit record of one balance change on one wallet.
type Entry struct {
	ID              string
	OperationID     string
	UserID          string
	Type            EntryType
	Wallet          Wallet
	Direction       Direction
	Amount          decimal.Decimal
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	ReferenceID     string
	Description     string
	CreatedAt       time.Time
}

// Signed returns the amount with the sign of its direction.
func (e Entry) Signed() decimal.Decimal {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// EntryFilter narrows a ledger history query.
type EntryFilter struct {
	UserID string
	Wallet Wallet // empty means all wallets
	Limit  int
}

// Tx is the unit of work handed to a mutation. Every row read through
// LockAccount stays locked against concurrent writers until the enclosing
// transaction commits or rolls back.
type Tx interface {
	LockAccount(ctx context.Context, userID string) (Account, error)
	SaveAccount(ctx context.Context, account Account) error
	AppendEntry(ctx context.Context, entry Entry) error
}

// Store persists accounts and the append-only entry log.
type Store interface {
	CreateAccount(ctx context.Context, userID string) (Account, error)
	GetAccount(ctx context.Context, userID string) (Account, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
	// InTx runs fn inside one unit of work. The work is committed only when fn
	// returns nil and rolled back on every other exit path.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
