package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paysure/paysure/internal/ledger"
)

const accountColumns = `user_id, deposit_balance, salary_balance, buffer_balance, created_at, updated_at`

const entryColumns = `id, operation_id, user_id, type, wallet, direction, amount,
        previous_balance, new_balance, reference_id, description, created_at`

// CreateAccount opens an account with three zero balances.
func (s *Store) CreateAccount(ctx context.Context, userID string) (ledger.Account, error) {
	id, err := parseID(userID)
	if err != nil {
		return ledger.Account{}, err
	}
	now := time.Now().UTC()
	cmd, err := s.db.Exec(ctx, `INSERT INTO accounts (user_id, created_at, updated_at)
        VALUES ($1, $2, $2) ON CONFLICT (user_id) DO NOTHING`, id, now)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("insert account: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ledger.Account{}, ledger.ErrAccountExists
	}
	return ledger.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (ledger.Account, error) {
	id, err := parseID(userID)
	if err != nil {
		return ledger.Account{}, err
	}
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, id)
	return scanAccount(row)
}

// ListEntries returns matching entries, newest first.
func (s *Store) ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	id, err := parseID(filter.UserID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE user_id = $1 AND ($2::text = '' OR wallet = $2::text)
        ORDER BY seq DESC
        LIMIT $3`, id, string(filter.Wallet), limitArg(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]ledger.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (t *tx) LockAccount(ctx context.Context, userID string) (ledger.Account, error) {
	id, err := parseID(userID)
	if err != nil {
		return ledger.Account{}, err
	}
	row := t.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

func (t *tx) SaveAccount(ctx context.Context, account ledger.Account) error {
	id, err := parseID(account.UserID)
	if err != nil {
		return err
	}
	cmd, err := t.q.Exec(ctx, `UPDATE accounts
        SET deposit_balance = $2, salary_balance = $3, buffer_balance = $4, updated_at = $5
        WHERE user_id = $1`,
		id, account.Deposit, account.Salary, account.Buffer, account.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *tx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	ids, err := parseIDs(e.ID, e.OperationID, e.UserID)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ids[0], ids[1], ids[2], string(e.Type), string(e.Wallet), string(e.Direction),
		e.Amount, e.PreviousBalance, e.NewBalance, e.ReferenceID, e.Description, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		id      uuid.UUID
		account ledger.Account
	)
	if err := row.Scan(&id, &account.Deposit, &account.Salary, &account.Buffer, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return ledger.Account{}, notFound(err)
	}
	account.UserID = id.String()
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		id, opID, userID        uuid.UUID
		kind, wallet, direction string
		e                       ledger.Entry
	)
	if err := row.Scan(&id, &opID, &userID, &kind, &wallet, &direction, &e.Amount,
		&e.PreviousBalance, &e.NewBalance, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
		return ledger.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.ID = id.String()
	e.OperationID = opID.String()
	e.UserID = userID.String()
	e.Type = ledger.EntryType(kind)
	e.Wallet = ledger.Wallet(wallet)
	e.Direction = ledger.Direction(direction)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
