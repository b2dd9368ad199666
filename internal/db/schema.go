package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreateSchema creates the application tables. Safe to call on every start.
func CreateSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS admins (
    id            UUID PRIMARY KEY,
    email         TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'admin',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_admins_email ON admins (lower(email));

-- Pools
CREATE TABLE IF NOT EXISTS pools (
    id             UUID PRIMARY KEY,
    title          TEXT NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    kind           TEXT NOT NULL CHECK (kind IN ('pulse', 'grand')),
    min_entry      BIGINT NOT NULL CHECK (min_entry > 0),
    closing_date   TIMESTAMPTZ,
    status         TEXT NOT NULL DEFAULT 'open'
                   CHECK (status IN ('open', 'locked', 'settled', 'rollover', 'refunded')),
    rollover_bonus BIGINT NOT NULL DEFAULT 0 CHECK (rollover_bonus >= 0),
    refund_reason  TEXT,
    created_by     UUID NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pools_status ON pools (status);
CREATE INDEX IF NOT EXISTS idx_pools_created_at ON pools (created_at DESC);

CREATE TABLE IF NOT EXISTS pool_options (
    id            UUID PRIMARY KEY,
    pool_id       UUID NOT NULL REFERENCES pools(id) ON DELETE CASCADE,
    title         TEXT NOT NULL,
    eliminated    BOOLEAN NOT NULL DEFAULT FALSE,
    eliminated_at TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pool_options_pool_id ON pool_options (pool_id);

CREATE TABLE IF NOT EXISTS pool_entries (
    id            UUID PRIMARY KEY,
    pool_id       UUID NOT NULL REFERENCES pools(id) ON DELETE CASCADE,
    option_id     UUID NOT NULL REFERENCES pool_options(id),
    user_id       UUID NOT NULL,
    amount        BIGINT NOT NULL CHECK (amount > 0),
    status        TEXT NOT NULL DEFAULT 'active'
                  CHECK (status IN ('active', 'refunded', 'won', 'lost')),
    payout_amount BIGINT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pool_entries_pool_id ON pool_entries (pool_id);
CREATE INDEX IF NOT EXISTS idx_pool_entries_option_id ON pool_entries (option_id);

-- Wallets
CREATE TABLE IF NOT EXISTS wallets (
    user_id    UUID PRIMARY KEY,
    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wallet_transactions (
    id              UUID PRIMARY KEY,
    user_id         UUID NOT NULL,
    kind            TEXT NOT NULL,
    amount          BIGINT NOT NULL,
    balance_after   BIGINT,
    memo            TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL UNIQUE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_wallet_transactions_user_id ON wallet_transactions (user_id, created_at DESC);

-- Runtime settings; a single row edited by admins
CREATE TABLE IF NOT EXISTS system_settings (
    id                  INTEGER PRIMARY KEY CHECK (id = 1),
    company_cut_percent NUMERIC(5,4) NOT NULL CHECK (company_cut_percent >= 0 AND company_cut_percent < 1),
    rollover_enabled    BOOLEAN NOT NULL DEFAULT TRUE,
    updated_by          UUID,
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Settlement; one ledger per pool, figures immutable once written
CREATE TABLE IF NOT EXISTS settlement_ledgers (
    id                  UUID PRIMARY KEY,
    pool_id             UUID NOT NULL UNIQUE REFERENCES pools(id),
    winning_option_id   UUID NOT NULL REFERENCES pool_options(id),
    company_cut_percent NUMERIC(5,4) NOT NULL,
    total_pool          BIGINT NOT NULL,
    company_cut         BIGINT NOT NULL,
    rollover_bonus      BIGINT NOT NULL,
    distributable_pool  BIGINT NOT NULL,
    winners_count       INTEGER NOT NULL,
    losers_count        INTEGER NOT NULL,
    total_payout        BIGINT NOT NULL,
    remainder           BIGINT NOT NULL,
    forfeited_stake     BIGINT NOT NULL DEFAULT 0,
    payouts_done        BOOLEAN NOT NULL DEFAULT FALSE,
    settled_by          UUID NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    settled_at          TIMESTAMPTZ,
    CHECK (total_payout + remainder = CASE WHEN winners_count > 0 THEN distributable_pool ELSE 0 END)
);
CREATE INDEX IF NOT EXISTS idx_settlement_ledgers_pending ON settlement_ledgers (created_at) WHERE NOT payouts_done;

CREATE TABLE IF NOT EXISTS settlement_payouts (
    settlement_id UUID NOT NULL REFERENCES settlement_ledgers(id),
    entry_id      UUID NOT NULL REFERENCES pool_entries(id),
    user_id       UUID NOT NULL,
    outcome       TEXT NOT NULL CHECK (outcome IN ('won', 'lost')),
    stake         BIGINT NOT NULL,
    amount        BIGINT NOT NULL DEFAULT 0,
    wallet_tx_id  UUID,
    PRIMARY KEY (settlement_id, entry_id)
);

-- Rollover; a single balance row plus append-only history
CREATE TABLE IF NOT EXISTS rollover_balance (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    current_balance BIGINT NOT NULL DEFAULT 0 CHECK (current_balance >= 0),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
INSERT INTO rollover_balance (id, current_balance) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS rollover_credits (
    id         UUID PRIMARY KEY,
    pool_id    UUID NOT NULL REFERENCES pools(id),
    amount     BIGINT NOT NULL CHECK (amount > 0),
    reason     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rollover_applications (
    id         UUID PRIMARY KEY,
    pool_id    UUID NOT NULL UNIQUE REFERENCES pools(id),
    amount     BIGINT NOT NULL CHECK (amount > 0),
    admin_id   UUID NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_rollover_applications_created_at ON rollover_applications (created_at DESC, id);
`
