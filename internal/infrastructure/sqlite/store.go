// Package sqlite provides an embedded inventory store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT NOT NULL,
		pharmacy_id TEXT NOT NULL,
		brand_name TEXT NOT NULL,
		generic_name TEXT NOT NULL DEFAULT '',
		dosage_form TEXT NOT NULL DEFAULT '',
		strength TEXT NOT NULL DEFAULT '',
		strength_unit TEXT NOT NULL DEFAULT '',
		container_size TEXT NOT NULL DEFAULT '',
		container_unit TEXT NOT NULL DEFAULT '',
		selling_price TEXT NOT NULL DEFAULT '',
		current_stock REAL NOT NULL DEFAULT 0,
		expiry_date DATETIME,
		PRIMARY KEY (pharmacy_id, id)
	);`,
	`CREATE TABLE IF NOT EXISTS inventory_batches (
		id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		pharmacy_id TEXT NOT NULL,
		batch_number TEXT NOT NULL DEFAULT '',
		quantity REAL NOT NULL DEFAULT 0,
		selling_price TEXT NOT NULL DEFAULT '',
		expiry_date DATETIME,
		status TEXT NOT NULL DEFAULT 'active',
		PRIMARY KEY (pharmacy_id, item_id, id)
	);`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		pharmacy_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		batch_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		quantity REAL NOT NULL,
		delta REAL NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_item ON stock_movements (pharmacy_id, item_id, created_at);`,
}

// Store is an inventory store backed by SQLite.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	tracer trace.Tracer
}

// Open connects to the database at dsn. SQLite allows one writer, so the
// pool is limited to a single connection.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return New(db, logger), nil
}

// New wraps an open database.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, tracer: otel.Tracer("sqlite")}
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// UpsertItem writes an item and replaces its batches.
func (s *Store) UpsertItem(ctx context.Context, item inventory.Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO inventory_items (id, pharmacy_id, brand_name, generic_name, dosage_form, strength,
			strength_unit, container_size, container_unit, selling_price, current_stock, expiry_date)
		VALUES (:id, :pharmacy_id, :brand_name, :generic_name, :dosage_form, :strength,
			:strength_unit, :container_size, :container_unit, :selling_price, :current_stock, :expiry_date)
		ON CONFLICT (pharmacy_id, id) DO UPDATE SET
			brand_name = excluded.brand_name, generic_name = excluded.generic_name,
			dosage_form = excluded.dosage_form, strength = excluded.strength,
			strength_unit = excluded.strength_unit, container_size = excluded.container_size,
			container_unit = excluded.container_unit, selling_price = excluded.selling_price,
			current_stock = excluded.current_stock, expiry_date = excluded.expiry_date`, item)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM inventory_batches WHERE pharmacy_id = $1 AND item_id = $2`, item.PharmacyID, item.ID); err != nil {
		return fmt.Errorf("clear batches: %w", err)
	}
	for _, b := range item.Batches {
		row := batchRow{ItemID: item.ID, PharmacyID: item.PharmacyID, Batch: b}
		if row.Status == "" {
			row.Status = inventory.BatchActive
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO inventory_batches (id, item_id, pharmacy_id, batch_number, quantity, selling_price, expiry_date, status)
			VALUES (:id, :item_id, :pharmacy_id, :batch_number, :quantity, :selling_price, :expiry_date, :status)`, row)
		if err != nil {
			return fmt.Errorf("insert batch %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

type batchRow struct {
	ItemID     string `db:"item_id"`
	PharmacyID string `db:"pharmacy_id"`
	inventory.Batch
}

// Snapshot returns the pharmacy's items with their batches, ordered by id.
func (s *Store) Snapshot(ctx context.Context, pharmacyID string) ([]inventory.Item, error) {
	ctx, span := s.tracer.Start(ctx, "sqlite_snapshot", trace.WithAttributes(attribute.String("pharmacy_id", pharmacyID)))
	defer span.End()

	var items []inventory.Item
	err := s.db.SelectContext(ctx, &items, `
		SELECT id, pharmacy_id, brand_name, generic_name, dosage_form, strength, strength_unit,
		       container_size, container_unit, selling_price, current_stock, expiry_date
		FROM inventory_items WHERE pharmacy_id = $1 ORDER BY id`, pharmacyID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("select items: %w", err)
	}

	var batches []batchRow
	err = s.db.SelectContext(ctx, &batches, `
		SELECT id, item_id, pharmacy_id, batch_number, quantity, selling_price, expiry_date, status
		FROM inventory_batches WHERE pharmacy_id = $1 ORDER BY item_id, id`, pharmacyID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("select batches: %w", err)
	}

	index := make(map[string]int, len(items))
	for i := range items {
		index[items[i].ID] = i
	}
	for _, b := range batches {
		if i, ok := index[b.ItemID]; ok {
			items[i].Batches = append(items[i].Batches, b.Batch)
		}
	}
	span.SetAttributes(attribute.Int("items", len(items)))
	return items, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// IncrementStock adds delta to the item counter, and to the batch when ref
// names one, with single UPDATE statements.
func (s *Store) IncrementStock(ctx context.Context, pharmacyID string, ref inventory.StockRef, delta float64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := increment(ctx, tx, pharmacyID, ref, delta); err != nil {
		return err
	}
	return tx.Commit()
}

func increment(ctx context.Context, ex execer, pharmacyID string, ref inventory.StockRef, delta float64) error {
	if ref.BatchID != "" {
		res, err := ex.ExecContext(ctx, `
			UPDATE inventory_batches SET quantity = quantity + $1
			WHERE pharmacy_id = $2 AND item_id = $3 AND id = $4`, delta, pharmacyID, ref.ItemID, ref.BatchID)
		if err := checkAffected(res, err, ref); err != nil {
			return err
		}
	}
	res, err := ex.ExecContext(ctx, `
		UPDATE inventory_items SET current_stock = current_stock + $1
		WHERE pharmacy_id = $2 AND id = $3`, delta, pharmacyID, ref.ItemID)
	return checkAffected(res, err, ref)
}

func checkAffected(res sql.Result, err error, ref inventory.StockRef) error {
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", inventory.ErrItemNotFound, ref.ItemID, ref.BatchID)
	}
	return nil
}

const insertMovement = `
	INSERT INTO stock_movements (id, pharmacy_id, item_id, batch_id, type, quantity, delta, reference, created_at)
	VALUES (:id, :pharmacy_id, :item_id, :batch_id, :type, :quantity, :delta, :reference, :created_at)`

// AppendMovement inserts a movement record.
func (s *Store) AppendMovement(ctx context.Context, m *inventory.StockMovement) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NamedExecContext(ctx, insertMovement, m); err != nil {
		return fmt.Errorf("append movement: %w", err)
	}
	return nil
}

// ApplyMovement increments stock and appends m in one transaction.
func (s *Store) ApplyMovement(ctx context.Context, m *inventory.StockMovement) error {
	ctx, span := s.tracer.Start(ctx, "sqlite_apply_movement",
		trace.WithAttributes(
			attribute.String("item_id", m.ItemID),
			attribute.Float64("delta", m.Delta),
		))
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ref := inventory.StockRef{ItemID: m.ItemID, BatchID: m.BatchID}
	if err := increment(ctx, tx, m.PharmacyID, ref, m.Delta); err != nil {
		span.RecordError(err)
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.NamedExecContext(ctx, insertMovement, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("append movement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListMovements returns an item's movements, oldest first.
func (s *Store) ListMovements(ctx context.Context, pharmacyID, itemID string) ([]inventory.StockMovement, error) {
	var out []inventory.StockMovement
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, pharmacy_id, item_id, batch_id, type, quantity, delta, reference, created_at
		FROM stock_movements WHERE pharmacy_id = $1 AND item_id = $2
		ORDER BY created_at, rowid`, pharmacyID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return out, nil
}
