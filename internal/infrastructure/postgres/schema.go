// Package postgres provides the PostgreSQL record store, prescription and
// fee-profile sources, and the transactional outbox.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drfirst/go-rxcharge/pkg/idempotency"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id             TEXT NOT NULL,
		pharmacy_id    TEXT NOT NULL,
		brand_name     TEXT NOT NULL,
		generic_name   TEXT NOT NULL DEFAULT '',
		dosage_form    TEXT NOT NULL DEFAULT '',
		strength       TEXT NOT NULL DEFAULT '',
		strength_unit  TEXT NOT NULL DEFAULT '',
		container_size TEXT NOT NULL DEFAULT '',
		container_unit TEXT NOT NULL DEFAULT '',
		selling_price  TEXT NOT NULL DEFAULT '',
		current_stock  DOUBLE PRECISION NOT NULL DEFAULT 0,
		expiry_date    TIMESTAMPTZ,
		PRIMARY KEY (pharmacy_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_batches (
		id            TEXT NOT NULL,
		item_id       TEXT NOT NULL,
		pharmacy_id   TEXT NOT NULL,
		batch_number  TEXT NOT NULL DEFAULT '',
		quantity      DOUBLE PRECISION NOT NULL DEFAULT 0,
		selling_price TEXT NOT NULL DEFAULT '',
		expiry_date   TIMESTAMPTZ,
		status        TEXT NOT NULL DEFAULT 'active',
		PRIMARY KEY (pharmacy_id, item_id, id),
		FOREIGN KEY (pharmacy_id, item_id) REFERENCES inventory_items (pharmacy_id, id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id          TEXT PRIMARY KEY,
		pharmacy_id TEXT NOT NULL,
		item_id     TEXT NOT NULL,
		batch_id    TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL,
		quantity    DOUBLE PRECISION NOT NULL,
		delta       DOUBLE PRECISION NOT NULL,
		reference   TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_item ON stock_movements (pharmacy_id, item_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
		id         TEXT PRIMARY KEY,
		doctor_id  TEXT NOT NULL,
		body       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS doctor_fee_profiles (
		doctor_id           TEXT PRIMARY KEY,
		consultation_charge NUMERIC(12,2) NOT NULL DEFAULT 0,
		hospital_charge     NUMERIC(12,2) NOT NULL DEFAULT 0,
		procedure_pricing   JSONB NOT NULL DEFAULT '{}',
		rounding_preference TEXT NOT NULL DEFAULT 'none'
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_id   TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		topic          TEXT NOT NULL,
		message_key    TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		retry_count    INT NOT NULL DEFAULT 0,
		last_error     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (created_at) WHERE processed_at IS NULL`,
	idempotency.Schema,
}

// Migrate creates every table the engine, outbox and inbox use.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Connect opens a pool and verifies the connection.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}
