package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paysure/paysure/internal/deposit"
)

const depositColumns = `id, user_id, amount, phone, status, checkout_request_id, merchant_request_id,
        receipt_number, result_code, result_desc, created_at, updated_at, completed_at`

func (s *Store) CreateDeposit(ctx context.Context, d deposit.Deposit) error {
	ids, err := parseIDs(d.ID, d.UserID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO deposits (`+depositColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ids[0], ids[1], d.Amount, d.Phone, string(d.Status), d.CheckoutRequestID, d.MerchantRequestID,
		d.ReceiptNumber, d.ResultCode, d.ResultDesc, d.CreatedAt.UTC(), d.UpdatedAt.UTC(), d.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert deposit: %w", err)
	}
	return nil
}

func (s *Store) GetDeposit(ctx context.Context, id string) (deposit.Deposit, error) {
	depositID, err := parseID(id)
	if err != nil {
		return deposit.Deposit{}, err
	}
	return scanDeposit(s.db.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, depositID))
}

func (s *Store) ListDeposits(ctx context.Context, userID string, offset, limit int) ([]deposit.Deposit, int, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM deposits WHERE user_id = $1`, id).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deposits: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT `+depositColumns+` FROM deposits
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`, id, limitArg(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query deposits: %w", err)
	}
	deposits, err := collectDeposits(rows)
	if err != nil {
		return nil, 0, err
	}
	return deposits, total, nil
}

func (s *Store) CompletedDeposits(ctx context.Context, userID string, from, to time.Time) ([]deposit.Deposit, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+depositColumns+` FROM deposits
        WHERE user_id = $1 AND status = $2 AND created_at >= $3 AND created_at < $4
        ORDER BY created_at`, id, string(deposit.StatusCompleted), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query completed deposits: %w", err)
	}
	return collectDeposits(rows)
}

func (t *tx) LockDepositByCheckoutID(ctx context.Context, checkoutRequestID string) (deposit.Deposit, error) {
	row := t.q.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits
        WHERE checkout_request_id = $1 FOR UPDATE`, checkoutRequestID)
	return scanDeposit(row)
}

func (t *tx) SaveDeposit(ctx context.Context, d deposit.Deposit) error {
	id, err := parseID(d.ID)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `UPDATE deposits
        SET status = $2, receipt_number = $3, result_code = $4, result_desc = $5,
            updated_at = $6, completed_at = $7
        WHERE id = $1`,
		id, string(d.Status), d.ReceiptNumber, d.ResultCode, d.ResultDesc, d.UpdatedAt.UTC(), d.CompletedAt)
	if err != nil {
		return fmt.Errorf("update deposit: %w", err)
	}
	return nil
}

func collectDeposits(rows pgx.Rows) ([]deposit.Deposit, error) {
	defer rows.Close()
	out := make([]deposit.Deposit, 0)
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDeposit(row pgx.Row) (deposit.Deposit, error) {
	var (
		id, userID uuid.UUID
		status     string
		d          deposit.Deposit
	)
	if err := row.Scan(&id, &userID, &d.Amount, &d.Phone, &status, &d.CheckoutRequestID, &d.MerchantRequestID,
		&d.ReceiptNumber, &d.ResultCode, &d.ResultDesc, &d.CreatedAt, &d.UpdatedAt, &d.CompletedAt); err != nil {
		return deposit.Deposit{}, notFound(err)
	}
	d.ID = id.String()
	d.UserID = userID.String()
	d.Status = deposit.Status(status)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	if d.CompletedAt != nil {
		completed := d.CompletedAt.UTC()
		d.CompletedAt = &completed
	}
	return d, nil
}
