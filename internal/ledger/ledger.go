// Package ledger applies stock movements to pharmacy inventory.
//
// Every movement is one atomic increment of a stock counter plus one appended
// movement record. Stores that implement AtomicMovementStore write both in a
// single transaction; for other stores the two writes are separate and a
// failure between them leaves the counter changed without its record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/observability/metrics"
	"github.com/drfirst/go-rxcharge/internal/pricing/allocation"
)

// AtomicMovementStore writes the counter increment and the movement record
// of m in one transaction. The increment is m.Delta.
type AtomicMovementStore interface {
	ApplyMovement(ctx context.Context, m *inventory.StockMovement) error
}

// Stage names the write that failed.
type Stage string

const (
	StageIncrement Stage = "increment"
	StageAppend    Stage = "append"
	StageAtomic    Stage = "atomic"
)

// MovementError reports a failed ledger write.
type MovementError struct {
	Stage    Stage
	Movement inventory.StockMovement
	Err      error
}

func (e *MovementError) Error() string {
	return fmt.Sprintf("ledger %s failed for item %s (batch %q): %v",
		e.Stage, e.Movement.ItemID, e.Movement.BatchID, e.Err)
}

func (e *MovementError) Unwrap() error { return e.Err }

// ErrZeroQuantity is returned for movements that would not change stock.
var ErrZeroQuantity = errors.New("movement quantity must be non-zero")

// Ledger records stock movements.
type Ledger struct {
	store   inventory.Store
	atomic  AtomicMovementStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a ledger over store. When store also implements
// AtomicMovementStore, movements are written in one transaction.
func New(store inventory.Store, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:   store,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("ledger"),
		now:     time.Now,
	}
	if a, ok := store.(AtomicMovementStore); ok {
		l.atomic = a
	}
	return l
}

// Atomic reports whether movements are written in a single transaction.
func (l *Ledger) Atomic() bool { return l.atomic != nil }

// ApplyMovement resolves the signed delta for t, increments the stock counter
// at ref and appends the movement record.
func (l *Ledger) ApplyMovement(ctx context.Context, pharmacyID string, ref inventory.StockRef, quantity float64, t inventory.MovementType, reference string) (*inventory.StockMovement, error) {
	delta, err := inventory.SignedDelta(t, quantity)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, ErrZeroQuantity
	}

	mv := &inventory.StockMovement{
		ID:         uuid.New().String(),
		PharmacyID: pharmacyID,
		ItemID:     ref.ItemID,
		BatchID:    ref.BatchID,
		Type:       t,
		Quantity:   quantity,
		Delta:      delta,
		Reference:  reference,
		CreatedAt:  l.now().UTC(),
	}

	ctx, span := l.tracer.Start(ctx, "ledger_apply_movement",
		trace.WithAttributes(
			attribute.String("pharmacy_id", pharmacyID),
			attribute.String("item_id", ref.ItemID),
			attribute.String("batch_id", ref.BatchID),
			attribute.String("movement_type", string(t)),
			attribute.Float64("delta", delta),
			attribute.Bool("atomic", l.atomic != nil),
		))
	defer span.End()

	if err := l.write(ctx, mv); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logger.Error("stock movement failed",
			zap.String("pharmacy_id", pharmacyID),
			zap.String("item_id", ref.ItemID),
			zap.String("batch_id", ref.BatchID),
			zap.String("type", string(t)),
			zap.Error(err))
		return nil, err
	}

	l.metrics.ObserveMovement(string(t))
	l.logger.Debug("stock movement recorded",
		zap.String("movement_id", mv.ID),
		zap.String("item_id", ref.ItemID),
		zap.Float64("delta", delta))
	return mv, nil
}

func (l *Ledger) write(ctx context.Context, mv *inventory.StockMovement) error {
	if l.atomic != nil {
		if err := l.atomic.ApplyMovement(ctx, mv); err != nil {
			return &MovementError{Stage: StageAtomic, Movement: *mv, Err: err}
		}
		return nil
	}
	ref := inventory.StockRef{ItemID: mv.ItemID, BatchID: mv.BatchID}
	if err := l.store.IncrementStock(ctx, mv.PharmacyID, ref, mv.Delta); err != nil {
		return &MovementError{Stage: StageIncrement, Movement: *mv, Err: err}
	}
	if err := l.store.AppendMovement(ctx, mv); err != nil {
		return &MovementError{Stage: StageAppend, Movement: *mv, Err: err}
	}
	return nil
}

// ApplyAllocation records a dispatch for every entry of res. Entry quantities
// are converted back to stock units first. It stops at the first failure and
// returns the movements written so far.
func (l *Ledger) ApplyAllocation(ctx context.Context, pharmacyID string, res allocation.Result, reference string) ([]inventory.StockMovement, error) {
	movements := make([]inventory.StockMovement, 0, len(res.Entries))
	for _, e := range res.Entries {
		qty := e.StockQuantity()
		if qty <= 0 {
			continue
		}
		ref := inventory.StockRef{ItemID: e.InventoryItemID, BatchID: e.BatchID}
		mv, err := l.ApplyMovement(ctx, pharmacyID, ref, qty, inventory.MovementDispatch, reference)
		if err != nil {
			return movements, err
		}
		movements = append(movements, *mv)
	}
	return movements, nil
}

// History returns the movement records of an item, oldest first.
func (l *Ledger) History(ctx context.Context, pharmacyID, itemID string) ([]inventory.StockMovement, error) {
	movements, err := l.store.ListMovements(ctx, pharmacyID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}
