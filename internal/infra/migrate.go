package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id UUID PRIMARY KEY,
        phone TEXT NOT NULL UNIQUE,
        full_name TEXT NOT NULL,
        national_id TEXT NOT NULL DEFAULT '',
        business_category TEXT NOT NULL DEFAULT '',
        daily_target NUMERIC(14,2) NOT NULL DEFAULT 0,
        monthly_goal NUMERIC(14,2) NOT NULL CHECK (monthly_goal > 0),
        payout_day SMALLINT NOT NULL CHECK (payout_day BETWEEN 1 AND 28),
        pin_hash BYTEA NOT NULL,
        device_id TEXT NOT NULL DEFAULT '',
        token_version INTEGER NOT NULL DEFAULT 0,
        status TEXT NOT NULL DEFAULT 'active',
        created_at TIMESTAMPTZ NOT NULL,
        last_login_at TIMESTAMPTZ
    )`,
	`CREATE INDEX IF NOT EXISTS users_payout_day ON users (payout_day)`,
	`CREATE TABLE IF NOT EXISTS accounts (
        user_id UUID PRIMARY KEY REFERENCES users (id),
        deposit_balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (deposit_balance >= 0),
        salary_balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (salary_balance >= 0),
        buffer_balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (buffer_balance >= 0),
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
        seq BIGSERIAL PRIMARY KEY,
        id UUID NOT NULL UNIQUE,
        operation_id UUID NOT NULL,
        user_id UUID NOT NULL REFERENCES accounts (user_id),
        type TEXT NOT NULL CHECK (type IN ('deposit', 'salary_transfer', 'buffer_transfer', 'payout')),
        wallet TEXT NOT NULL CHECK (wallet IN ('deposit', 'salary', 'buffer')),
        direction TEXT NOT NULL CHECK (direction IN ('credit', 'debit')),
        amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
        previous_balance NUMERIC(14,2) NOT NULL,
        new_balance NUMERIC(14,2) NOT NULL CHECK (new_balance >= 0),
        reference_id TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_user_wallet ON ledger_entries (user_id, wallet, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS deposits (
        id UUID PRIMARY KEY,
        user_id UUID NOT NULL REFERENCES users (id),
        amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
        phone TEXT NOT NULL,
        status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
        checkout_request_id TEXT NOT NULL UNIQUE,
        merchant_request_id TEXT NOT NULL DEFAULT '',
        receipt_number TEXT NOT NULL DEFAULT '',
        result_code INTEGER,
        result_desc TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        completed_at TIMESTAMPTZ
    )`,
	`CREATE INDEX IF NOT EXISTS deposits_user_created ON deposits (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS salary_payouts (
        id UUID PRIMARY KEY,
        user_id UUID NOT NULL REFERENCES users (id),
        month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
        year INTEGER NOT NULL,
        expected_amount NUMERIC(14,2) NOT NULL CHECK (expected_amount > 0),
        actual_paid_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
        status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
        external_reference TEXT NOT NULL DEFAULT '',
        failure_reason TEXT NOT NULL DEFAULT '',
        reseeded_from UUID REFERENCES salary_payouts (id),
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        paid_at TIMESTAMPTZ
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS salary_payouts_active_period
        ON salary_payouts (user_id, year, month) WHERE status <> 'failed'`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
