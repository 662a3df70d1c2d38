package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
)

// InventoryStore is the pharmacy inventory on PostgreSQL.
type InventoryStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewInventoryStore creates a store on pool.
func NewInventoryStore(pool *pgxpool.Pool, logger *zap.Logger) *InventoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryStore{pool: pool, logger: logger, tracer: otel.Tracer("postgres-inventory")}
}

type batchRow struct {
	ItemID     string `db:"item_id"`
	PharmacyID string `db:"pharmacy_id"`
	inventory.Batch
}

// Snapshot returns the pharmacy's items with their batches, ordered by id.
func (s *InventoryStore) Snapshot(ctx context.Context, pharmacyID string) ([]inventory.Item, error) {
	ctx, span := s.tracer.Start(ctx, "postgres_snapshot", trace.WithAttributes(attribute.String("pharmacy_id", pharmacyID)))
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT id, pharmacy_id, brand_name, generic_name, dosage_form, strength, strength_unit,
		       container_size, container_unit, selling_price, current_stock, expiry_date
		FROM inventory_items WHERE pharmacy_id = $1 ORDER BY id`, pharmacyID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("select items: %w", err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[inventory.Item])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan items: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, item_id, pharmacy_id, batch_number, quantity, selling_price, expiry_date, status
		FROM inventory_batches WHERE pharmacy_id = $1 ORDER BY item_id, id`, pharmacyID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("select batches: %w", err)
	}
	batches, err := pgx.CollectRows(rows, pgx.RowToStructByName[batchRow])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan batches: %w", err)
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

// UpsertItem writes an item and replaces its batches.
func (s *InventoryStore) UpsertItem(ctx context.Context, item inventory.Item) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO inventory_items (id, pharmacy_id, brand_name, generic_name, dosage_form, strength,
				strength_unit, container_size, container_unit, selling_price, current_stock, expiry_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (pharmacy_id, id) DO UPDATE SET
				brand_name = EXCLUDED.brand_name, generic_name = EXCLUDED.generic_name,
				dosage_form = EXCLUDED.dosage_form, strength = EXCLUDED.strength,
				strength_unit = EXCLUDED.strength_unit, container_size = EXCLUDED.container_size,
				container_unit = EXCLUDED.container_unit, selling_price = EXCLUDED.selling_price,
				current_stock = EXCLUDED.current_stock, expiry_date = EXCLUDED.expiry_date`,
			item.ID, item.PharmacyID, item.BrandName, item.GenericName, item.DosageForm, item.Strength,
			item.StrengthUnit, item.ContainerSize, item.ContainerUnit, item.SellingPrice, item.CurrentStock, item.ExpiryDate)
		if err != nil {
			return fmt.Errorf("upsert item %s: %w", item.ID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM inventory_batches WHERE pharmacy_id = $1 AND item_id = $2`, item.PharmacyID, item.ID); err != nil {
			return fmt.Errorf("clear batches: %w", err)
		}

		batch := &pgx.Batch{}
		for _, b := range item.Batches {
			status := b.Status
			if status == "" {
				status = inventory.BatchActive
			}
			batch.Queue(`
				INSERT INTO inventory_batches (id, item_id, pharmacy_id, batch_number, quantity, selling_price, expiry_date, status)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				b.ID, item.ID, item.PharmacyID, b.BatchNumber, b.Quantity, b.SellingPrice, b.ExpiryDate, status)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert batches: %w", err)
		}
		return nil
	})
}

// IncrementStock adds delta to the item counter, and to the batch when ref
// names one, in one transaction.
func (s *InventoryStore) IncrementStock(ctx context.Context, pharmacyID string, ref inventory.StockRef, delta float64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return increment(ctx, tx, pharmacyID, ref, delta)
	})
}

func increment(ctx context.Context, tx pgx.Tx, pharmacyID string, ref inventory.StockRef, delta float64) error {
	if ref.BatchID != "" {
		tag, err := tx.Exec(ctx, `
			UPDATE inventory_batches SET quantity = quantity + $1
			WHERE pharmacy_id = $2 AND item_id = $3 AND id = $4`, delta, pharmacyID, ref.ItemID, ref.BatchID)
		if err := checkAffected(tag, err, ref); err != nil {
			return err
		}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE inventory_items SET current_stock = current_stock + $1
		WHERE pharmacy_id = $2 AND id = $3`, delta, pharmacyID, ref.ItemID)
	return checkAffected(tag, err, ref)
}

func checkAffected(tag pgconn.CommandTag, err error, ref inventory.StockRef) error {
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", inventory.ErrItemNotFound, ref.ItemID, ref.BatchID)
	}
	return nil
}

const insertMovement = `
	INSERT INTO stock_movements (id, pharmacy_id, item_id, batch_id, type, quantity, delta, reference, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func movementArgs(m *inventory.StockMovement) []any {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return []any{m.ID, m.PharmacyID, m.ItemID, m.BatchID, m.Type, m.Quantity, m.Delta, m.Reference, m.CreatedAt}
}

// AppendMovement inserts a movement record.
func (s *InventoryStore) AppendMovement(ctx context.Context, m *inventory.StockMovement) error {
	if _, err := s.pool.Exec(ctx, insertMovement, movementArgs(m)...); err != nil {
		return fmt.Errorf("append movement: %w", err)
	}
	return nil
}

// ApplyMovement increments stock, appends m and queues its event on the
// outbox in one transaction.
func (s *InventoryStore) ApplyMovement(ctx context.Context, m *inventory.StockMovement) error {
	ctx, span := s.tracer.Start(ctx, "postgres_apply_movement",
		trace.WithAttributes(
			attribute.String("pharmacy_id", m.PharmacyID),
			attribute.String("item_id", m.ItemID),
			attribute.Float64("delta", m.Delta),
		))
	defer span.End()

	entry, err := movementEntry(m)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ref := inventory.StockRef{ItemID: m.ItemID, BatchID: m.BatchID}
		if err := increment(ctx, tx, m.PharmacyID, ref, m.Delta); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertMovement, movementArgs(m)...); err != nil {
			return fmt.Errorf("append movement: %w", err)
		}
		return WriteEntry(ctx, tx, entry)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func movementEntry(m *inventory.StockMovement) (*OutboxEntry, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	ev, err := prescription.NewEvent(m.ItemID, "InventoryItem", prescription.EventStockMovementRecorded,
		prescription.StockMovementRecordedData{
			MovementID: m.ID,
			PharmacyID: m.PharmacyID,
			ItemID:     m.ItemID,
			BatchID:    m.BatchID,
			Type:       string(m.Type),
			Quantity:   m.Quantity,
			Delta:      m.Delta,
			Reference:  m.Reference,
			RecordedAt: m.CreatedAt,
		})
	if err != nil {
		return nil, fmt.Errorf("build movement event: %w", err)
	}
	ev.PharmacyID = m.PharmacyID
	return EntryFromEvent(ev)
}

// ListMovements returns an item's movements, oldest first.
func (s *InventoryStore) ListMovements(ctx context.Context, pharmacyID, itemID string) ([]inventory.StockMovement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pharmacy_id, item_id, batch_id, type, quantity, delta, reference, created_at
		FROM stock_movements WHERE pharmacy_id = $1 AND item_id = $2
		ORDER BY created_at, id`, pharmacyID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[inventory.StockMovement])
	if err != nil {
		return nil, fmt.Errorf("scan movements: %w", err)
	}
	return out, nil
}

// encodeJSON marshals v for a JSONB column.
func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return b, nil
}
