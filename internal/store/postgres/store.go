// Package postgres implements the ledger, deposit and payout stores on
// PostgreSQL. Every unit of work runs at SERIALIZABLE isolation and locks the
// rows it mutates with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paysure/paysure/internal/deposit"
	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/salary"
)

var (
	_ ledger.Store  = (*Store)(nil)
	_ deposit.Store = (*Store)(nil)
	_ salary.Store  = (*Store)(nil)
)

const maxTxAttempts = 5

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed store.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// New constructs a Postgres-backed store.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *Store) InDepositTx(ctx context.Context, fn func(ctx context.Context, tx deposit.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *Store) InPayoutTx(ctx context.Context, fn func(ctx context.Context, tx salary.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

// run retries the whole unit of work when PostgreSQL aborts it with a
// serialization failure or deadlock. A retry re-reads every row, so a check
// that raced with another writer sees the other writer's result.
func (s *Store) run(ctx context.Context, fn func(t *tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.attempt(ctx, fn)
		if !retryable(err) {
			return err
		}
		s.logger.Warn("retrying serializable transaction",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("transaction aborted after %d attempts: %w", maxTxAttempts, err)
}

func (s *Store) attempt(ctx context.Context, fn func(t *tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx) // nolint:errcheck

	if err := fn(&tx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraint
}

// parseID maps malformed identifiers to ErrNotFound; no row can match them.
func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("id %q: %w", id, ledger.ErrNotFound)
	}
	return parsed, nil
}

func parseIDs(ids ...string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		parsed, err := parseID(id)
		if err != nil {
			return nil, err
		}
		out[i] = parsed
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return err
}

// limitArg turns a non-positive limit into NULL, which PostgreSQL reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// tx implements ledger.Tx, deposit.Tx and salary.Tx over one pgx transaction.
type tx struct {
	q querier
}
