package database

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationSQL is the engine's schema. All statements are idempotent so
// the migration can run on every startup.
const migrationSQL = `
CREATE TABLE IF NOT EXISTS users (
    id                    UUID PRIMARY KEY,
    username              TEXT NOT NULL UNIQUE,
    password_hash         TEXT NOT NULL,
    role                  TEXT NOT NULL DEFAULT 'USER',
    broker_credentials    BYTEA,
    is_auto_trade_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    max_daily_orders      INTEGER NOT NULL DEFAULT 0,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS signals (
    id              UUID PRIMARY KEY,
    bot_id          TEXT NOT NULL,
    symbol          TEXT NOT NULL,
    action          TEXT NOT NULL,
    exchange        TEXT NOT NULL,
    instrument_type TEXT NOT NULL,
    quantity        INTEGER NOT NULL DEFAULT 0,
    price           DOUBLE PRECISION,
    stop_loss       DOUBLE PRECISION,
    target          DOUBLE PRECISION,
    status          TEXT NOT NULL DEFAULT 'PENDING',
    error           TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS positions (
    id                 UUID PRIMARY KEY,
    user_id            UUID NOT NULL REFERENCES users(id),
    bot_id             TEXT NOT NULL,
    symbol             TEXT NOT NULL,
    exchange           TEXT NOT NULL,
    instrument_type    TEXT NOT NULL,
    side               TEXT NOT NULL,
    status             TEXT NOT NULL,
    entry_price        DOUBLE PRECISION NOT NULL,
    entry_quantity     INTEGER NOT NULL,
    current_quantity   INTEGER NOT NULL,
    average_price      DOUBLE PRECISION NOT NULL,
    realized_pnl       DOUBLE PRECISION NOT NULL DEFAULT 0,
    unrealized_pnl     DOUBLE PRECISION NOT NULL DEFAULT 0,
    scheduled_exit_at  TEXT,
    auto_exit_owned    BOOLEAN NOT NULL DEFAULT FALSE,
    entry_execution_id UUID NOT NULL,
    exit_execution_ids UUID[] NOT NULL DEFAULT '{}',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    closed_at          TIMESTAMPTZ,
    CONSTRAINT current_quantity_non_negative CHECK (current_quantity >= 0)
);

CREATE INDEX IF NOT EXISTS idx_positions_open
    ON positions (status) WHERE status IN ('OPEN', 'PARTIAL');
CREATE INDEX IF NOT EXISTS idx_positions_user ON positions (user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_entry_execution
    ON positions (entry_execution_id);

CREATE TABLE IF NOT EXISTS executions (
    id                 UUID PRIMARY KEY,
    position_id        UUID REFERENCES positions(id),
    signal_id          UUID REFERENCES signals(id),
    user_id            UUID NOT NULL REFERENCES users(id),
    bot_id             TEXT NOT NULL,
    symbol             TEXT NOT NULL,
    exchange           TEXT NOT NULL,
    instrument_type    TEXT NOT NULL DEFAULT 'EQ',
    side               TEXT NOT NULL,
    kind               TEXT NOT NULL,
    requested_quantity INTEGER NOT NULL,
    requested_price    DOUBLE PRECISION NOT NULL DEFAULT 0,
    executed_quantity  INTEGER NOT NULL DEFAULT 0,
    executed_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
    broker_order_id    TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'PENDING',
    exit_reason        TEXT,
    broker_response    TEXT,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_executions_broker_order
    ON executions (broker_order_id);

CREATE TABLE IF NOT EXISTS confirmations (
    id                   UUID PRIMARY KEY,
    execution_id         UUID NOT NULL UNIQUE REFERENCES executions(id),
    broker_order_id      TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'PENDING',
    attempts             INTEGER NOT NULL DEFAULT 0,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    last_checked_at      TIMESTAMPTZ,
    history              JSONB NOT NULL DEFAULT '[]',
    last_error           TEXT,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_confirmations_unresolved
    ON confirmations (status, last_checked_at)
    WHERE status IN ('PENDING', 'CONFIRMING');

CREATE TABLE IF NOT EXISTS external_exits (
    id            UUID PRIMARY KEY,
    position_id   UUID NOT NULL REFERENCES positions(id),
    execution_id  UUID NOT NULL REFERENCES executions(id),
    detected_at   TIMESTAMPTZ NOT NULL,
    exit_quantity INTEGER NOT NULL,
    exit_price    DOUBLE PRECISION NOT NULL,
    evidence      TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS validations (
    id               UUID PRIMARY KEY,
    position_id      UUID NOT NULL REFERENCES positions(id),
    exists_at_broker BOOLEAN NOT NULL,
    broker_quantity  INTEGER NOT NULL,
    broker_price     DOUBLE PRECISION NOT NULL,
    broker_pnl       DOUBLE PRECISION NOT NULL,
    action           TEXT NOT NULL,
    checked_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validations_position
    ON validations (position_id, checked_at);
`

// RunMigrations runs database migrations on startup
func RunMigrations(db *pgxpool.Pool) error {
	ctx := context.Background()

	log.Println("Running database migrations...")

	if _, err := db.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("[OK] Database migrations completed")
	return nil
}
