package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/salary"
)

// activePeriodIndex guarantees one non-failed payout per (user, year, month).
const activePeriodIndex = "salary_payouts_active_period"

const payoutColumns = `id, user_id, month, year, expected_amount, actual_paid_amount, status,
        external_reference, failure_reason, reseeded_from, created_at, updated_at, paid_at`

func (s *Store) GetPayout(ctx context.Context, id string) (salary.Payout, error) {
	payoutID, err := parseID(id)
	if err != nil {
		return salary.Payout{}, err
	}
	return scanPayout(s.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM salary_payouts WHERE id = $1`, payoutID))
}

func (s *Store) ListPayouts(ctx context.Context, userID string, limit int) ([]salary.Payout, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+payoutColumns+` FROM salary_payouts
        WHERE user_id = $1
        ORDER BY year DESC, month DESC, created_at DESC
        LIMIT $2`, id, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	return collectPayouts(rows)
}

func (t *tx) LockPayout(ctx context.Context, id string) (salary.Payout, error) {
	payoutID, err := parseID(id)
	if err != nil {
		return salary.Payout{}, err
	}
	return scanPayout(t.q.QueryRow(ctx, `SELECT `+payoutColumns+` FROM salary_payouts WHERE id = $1 FOR UPDATE`, payoutID))
}

func (t *tx) InsertPayout(ctx context.Context, p salary.Payout) error {
	ids, err := parseIDs(p.ID, p.UserID)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `INSERT INTO salary_payouts (`+payoutColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ids[0], ids[1], p.Month, p.Year, p.ExpectedAmount, p.ActualPaidAmount, string(p.Status),
		p.ExternalReference, p.FailureReason, nullableID(p.ReseededFrom), p.CreatedAt.UTC(), p.UpdatedAt.UTC(), p.PaidAt)
	if isUniqueViolation(err, activePeriodIndex) {
		return fmt.Errorf("period %d-%02d already has an active payout: %w", p.Year, p.Month, ledger.ErrAlreadyProcessed)
	}
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (t *tx) SavePayout(ctx context.Context, p salary.Payout) error {
	id, err := parseID(p.ID)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `UPDATE salary_payouts
        SET status = $2, actual_paid_amount = $3, external_reference = $4, failure_reason = $5,
            updated_at = $6, paid_at = $7
        WHERE id = $1`,
		id, string(p.Status), p.ActualPaidAmount, p.ExternalReference, p.FailureReason, p.UpdatedAt.UTC(), p.PaidAt)
	if isUniqueViolation(err, activePeriodIndex) {
		return fmt.Errorf("period %d-%02d already has an active payout: %w", p.Year, p.Month, ledger.ErrAlreadyProcessed)
	}
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	return nil
}

func (t *tx) PeriodPayouts(ctx context.Context, userID string, month, year int) ([]salary.Payout, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := t.q.Query(ctx, `SELECT `+payoutColumns+` FROM salary_payouts
        WHERE user_id = $1 AND month = $2 AND year = $3
        ORDER BY created_at`, id, month, year)
	if err != nil {
		return nil, fmt.Errorf("query period payouts: %w", err)
	}
	return collectPayouts(rows)
}

func nullableID(id string) *uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return &parsed
}

func collectPayouts(rows pgx.Rows) ([]salary.Payout, error) {
	defer rows.Close()
	out := make([]salary.Payout, 0)
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayout(row pgx.Row) (salary.Payout, error) {
	var (
		id, userID   uuid.UUID
		reseededFrom uuid.NullUUID
		status       string
		p            salary.Payout
	)
	if err := row.Scan(&id, &userID, &p.Month, &p.Year, &p.ExpectedAmount, &p.ActualPaidAmount, &status,
		&p.ExternalReference, &p.FailureReason, &reseededFrom, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt); err != nil {
		return salary.Payout{}, notFound(err)
	}
	p.ID = id.String()
	p.UserID = userID.String()
	p.Status = salary.Status(status)
	if reseededFrom.Valid {
		p.ReseededFrom = reseededFrom.UUID.String()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if p.PaidAt != nil {
		paid := p.PaidAt.UTC()
		p.PaidAt = &paid
	}
	return p, nil
}
