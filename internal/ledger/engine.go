package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine applies balance mutations. Each exported operation is a single unit
// of work that locks the account, rewrites its balances and appends one entry
// per wallet touched. The ...Tx variants run inside a caller-owned unit of
// work so status transitions elsewhere can commit together with the money.
type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine builds a transfer engine on top of store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Result captures the outcome of one engine operation.
type Result struct {
	OperationID string
	Account     Account
	Entries     []Entry
}

type leg struct {
	wallet    Wallet
	direction Direction
}

// CreditDeposit adds new money to the deposit wallet.
func (e *Engine) CreditDeposit(ctx context.Context, userID string, amount decimal.Decimal, depositRef string) (Result, error) {
	return e.run(ctx, func(ctx context.Context, tx Tx) (Result, error) {
		return e.CreditDepositTx(ctx, tx, userID, amount, depositRef)
	})
}

// CreditDepositTx is CreditDeposit inside an existing unit of work.
func (e *Engine) CreditDepositTx(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, depositRef string) (Result, error) {
	return e.apply(ctx, tx, userID, EntryDeposit, amount, depositRef, "Deposit added to wallet",
		leg{WalletDeposit, Credit})
}

// TransferDepositToSalary moves amount from the deposit wallet to the salary wallet.
func (e *Engine) TransferDepositToSalary(ctx context.Context, userID string, amount decimal.Decimal, note string) (Result, error) {
	return e.run(ctx, func(ctx context.Context, tx Tx) (Result, error) {
		return e.TransferDepositToSalaryTx(ctx, tx, userID, amount, "", note)
	})
}

// TransferDepositToSalaryTx is TransferDepositToSalary inside an existing unit of work.
func (e *Engine) TransferDepositToSalaryTx(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, ref, note string) (Result, error) {
	return e.apply(ctx, tx, userID, EntrySalaryTransfer, amount, ref, note,
		leg{WalletDeposit, Debit}, leg{WalletSalary, Credit})
}

// TransferDepositToBuffer moves amount from the deposit wallet to the buffer wallet.
func (e *Engine) TransferDepositToBuffer(ctx context.Context, userID string, amount decimal.Decimal, note string) (Result, error) {
	return e.run(ctx, func(ctx context.Context, tx Tx) (Result, error) {
		return e.TransferDepositToBufferTx(ctx, tx, userID, amount, "", note)
	})
}

// TransferDepositToBufferTx is TransferDepositToBuffer inside an existing unit of work.
func (e *Engine) TransferDepositToBufferTx(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, ref, note string) (Result, error) {
	return e.apply(ctx, tx, userID, EntryBufferTransfer, amount, ref, note,
		leg{WalletDeposit, Debit}, leg{WalletBuffer, Credit})
}

// DebitSalaryForPayout removes a paid-out amount from the salary wallet.
func (e *Engine) DebitSalaryForPayout(ctx context.Context, userID string, amount decimal.Decimal, payoutRef string) (Result, error) {
	return e.run(ctx, func(ctx context.Context, tx Tx) (Result, error) {
		return e.DebitSalaryForPayoutTx(ctx, tx, userID, amount, payoutRef)
	})
}

// DebitSalaryForPayoutTx is DebitSalaryForPayout inside an existing unit of work.
func (e *Engine) DebitSalaryForPayoutTx(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, payoutRef string) (Result, error) {
	return e.apply(ctx, tx, userID, EntryPayout, amount, payoutRef, "Salary payout processed",
		leg{WalletSalary, Debit})
}

func (e *Engine) run(ctx context.Context, op func(ctx context.Context, tx Tx) (Result, error)) (Result, error) {
	var res Result
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = op(ctx, tx)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	// Logged after commit; the ...Tx variants are logged by their caller.
	attrs := []any{
		slog.String("operation_id", res.OperationID),
		slog.String("user_id", res.Account.UserID),
	}
	if len(res.Entries) > 0 {
		attrs = append(attrs,
			slog.String("type", string(res.Entries[0].Type)),
			slog.String("amount", Format(res.Entries[0].Amount)))
	}
	e.logger.DebugContext(ctx, "ledger operation committed", attrs...)
	return res, nil
}

// apply validates every debit leg before writing anything, so a rejected
// operation leaves neither a balance change nor an entry behind.
func (e *Engine) apply(ctx context.Context, tx Tx, userID string, kind EntryType, amount decimal.Decimal, ref, description string, legs ...leg) (Result, error) {
	if err := ValidateAmount(amount); err != nil {
		return Result{}, err
	}

	account, err := tx.LockAccount(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	for _, l := range legs {
		if l.direction == Debit && account.Balance(l.wallet).LessThan(amount) {
			return Result{}, fmt.Errorf("%s wallet holds %s, need %s: %w",
				l.wallet, Format(account.Balance(l.wallet)), Format(amount), ErrInsufficientFunds)
		}
	}

	now := e.now()
	opID := uuid.NewString()
	updated := account
	entries := make([]Entry, 0, len(legs))
	for _, l := range legs {
		prev := updated.Balance(l.wallet)
		next := prev.Add(amount)
		if l.direction == Debit {
			next = prev.Sub(amount)
		}
		updated = updated.withBalance(l.wallet, next)
		entries = append(entries, Entry{
			ID:              uuid.NewString(),
			OperationID:     opID,
			UserID:          userID,
			Type:            kind,
			Wallet:          l.wallet,
			Direction:       l.direction,
			Amount:          amount,
			PreviousBalance: prev,
			NewBalance:      next,
			ReferenceID:     ref,
			Description:     description,
			CreatedAt:       now,
		})
	}
	updated.UpdatedAt = now

	if err := tx.SaveAccount(ctx, updated); err != nil {
		return Result{}, fmt.Errorf("save account: %w", err)
	}
	for _, entry := range entries {
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return Result{}, fmt.Errorf("append entry: %w", err)
		}
	}

	return Result{OperationID: opID, Account: updated, Entries: entries}, nil
}
