// Package engine is the entry point for quoting and dispensing prescriptions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxcharge/internal/billing"
	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/ledger"
	"github.com/drfirst/go-rxcharge/internal/observability/metrics"
)

// EventSink receives domain events produced by dispensing.
type EventSink interface {
	Publish(ctx context.Context, event *prescription.Event) error
}

// Deps are the engine's collaborators. Store and Profiles are required for
// dispensing; quoting needs neither.
type Deps struct {
	Store         inventory.Store
	Profiles      billing.ProfileSource
	Prescriptions prescription.Source
	Events        EventSink
	Metrics       *metrics.Metrics
}

// QuoteOptions tune QuotePrescriptionCharge.
type QuoteOptions struct {
	PharmacyID string
	// IgnoreAvailability prices at the first matching source without
	// consuming stock.
	IgnoreAvailability bool
	// AssumeDispensedForAvailable prices every line and drops lines whose
	// price is missing.
	AssumeDispensedForAvailable bool
}

// ErrNotConfigured is returned when an operation needs a missing collaborator.
var ErrNotConfigured = errors.New("engine collaborator not configured")

// Engine quotes and dispenses prescriptions.
type Engine struct {
	deps   Deps
	calc   *billing.Calculator
	ledger *ledger.Ledger
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New creates an engine.
func New(deps Deps, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		deps:   deps,
		calc:   billing.NewCalculator(nil, nil),
		logger: logger,
		tracer: otel.Tracer("engine"),
		now:    time.Now,
	}
	if deps.Store != nil {
		e.ledger = ledger.New(deps.Store, deps.Metrics, logger.Named("ledger"))
	}
	return e
}

// QuotePrescriptionCharge prices rx against snapshot without side effects.
func (e *Engine) QuotePrescriptionCharge(ctx context.Context, rx *prescription.Prescription, profile *billing.DoctorFeeProfile, snapshot []inventory.Item, opts QuoteOptions) (*billing.ChargeBreakdown, error) {
	_, span := e.tracer.Start(ctx, "engine_quote",
		trace.WithAttributes(
			attribute.String("prescription_id", rx.ID),
			attribute.String("pharmacy_id", opts.PharmacyID),
			attribute.Bool("ignore_availability", opts.IgnoreAvailability),
		))
	defer span.End()

	if err := rx.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid prescription")
		return nil, err
	}

	start := e.now()
	pc := billing.PharmacyContext{PharmacyID: opts.PharmacyID, Snapshot: snapshot}
	var b *billing.ChargeBreakdown
	if opts.IgnoreAvailability || opts.AssumeDispensedForAvailable {
		b = e.calc.CalculateExpectedChargeFromStock(rx, profile, pc, billing.QuoteOptions{
			IgnoreAvailability:          opts.IgnoreAvailability,
			AssumeDispensedForAvailable: opts.AssumeDispensedForAvailable,
		})
	} else {
		b = e.calc.Charge(rx, profile, pc)
	}

	e.observeLines(b)
	e.deps.Metrics.ObserveQuote(e.now().Sub(start))
	span.SetAttributes(attribute.String("total_charge", b.TotalCharge.String()))
	return b, nil
}

// DispenseAndCharge bills rx against the pharmacy's current stock and records
// a dispatch movement for every allocated source. Ledger failures are
// returned as is; movements written before the failure are not undone.
func (e *Engine) DispenseAndCharge(ctx context.Context, rx *prescription.Prescription, pharmacyID string) (*billing.ChargeBreakdown, error) {
	if e.ledger == nil || e.deps.Profiles == nil {
		return nil, fmt.Errorf("dispense: %w", ErrNotConfigured)
	}

	ctx, span := e.tracer.Start(ctx, "engine_dispense",
		trace.WithAttributes(
			attribute.String("prescription_id", rx.ID),
			attribute.String("pharmacy_id", pharmacyID),
			attribute.Bool("atomic_ledger", e.ledger.Atomic()),
		))
	defer span.End()

	start := e.now()
	b, movements, err := e.dispense(ctx, rx, pharmacyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.deps.Metrics.ObserveDispense("error", e.now().Sub(start))
		e.logger.Error("dispense failed",
			zap.String("prescription_id", rx.ID),
			zap.String("pharmacy_id", pharmacyID),
			zap.Int("movements_written", len(movements)),
			zap.Error(err))
		return nil, err
	}
	e.deps.Metrics.ObserveDispense("ok", e.now().Sub(start))

	if err := e.publishDispensed(ctx, rx, pharmacyID, b, movements); err != nil {
		// stock is already moved; the event is best effort
		e.logger.Warn("failed to publish dispense event",
			zap.String("prescription_id", rx.ID),
			zap.Error(err))
	}

	e.logger.Info("prescription dispensed",
		zap.String("prescription_id", rx.ID),
		zap.String("pharmacy_id", pharmacyID),
		zap.String("total_charge", b.TotalCharge.String()),
		zap.Int("movements", len(movements)),
		zap.Strings("partial_lines", b.PartialLines()))
	return b, nil
}

// DispenseByID loads a prescription and dispenses it.
func (e *Engine) DispenseByID(ctx context.Context, prescriptionID, pharmacyID string) (*billing.ChargeBreakdown, error) {
	if e.deps.Prescriptions == nil {
		return nil, fmt.Errorf("load prescription: %w", ErrNotConfigured)
	}
	rx, err := e.deps.Prescriptions.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("load prescription %s: %w", prescriptionID, err)
	}
	return e.DispenseAndCharge(ctx, rx, pharmacyID)
}

func (e *Engine) dispense(ctx context.Context, rx *prescription.Prescription, pharmacyID string) (*billing.ChargeBreakdown, []inventory.StockMovement, error) {
	if err := rx.Validate(); err != nil {
		return nil, nil, err
	}
	profile, err := e.deps.Profiles.GetFeeProfile(ctx, rx.DoctorID)
	if err != nil {
		return nil, nil, fmt.Errorf("load fee profile for doctor %s: %w", rx.DoctorID, err)
	}
	snapshot, err := e.deps.Store.Snapshot(ctx, pharmacyID)
	if err != nil {
		return nil, nil, fmt.Errorf("load inventory snapshot: %w", err)
	}

	b := e.calc.Charge(rx, profile, billing.PharmacyContext{PharmacyID: pharmacyID, Snapshot: snapshot})
	e.observeLines(b)

	var movements []inventory.StockMovement
	for _, mc := range b.DrugCharges.MedicationBreakdown {
		if !mc.Found {
			continue
		}
		written, err := e.ledger.ApplyAllocation(ctx, pharmacyID, mc.Allocation, rx.ID)
		movements = append(movements, written...)
		if err != nil {
			return nil, movements, fmt.Errorf("record stock for %s: %w", mc.Name, err)
		}
	}
	return b, movements, nil
}

func (e *Engine) publishDispensed(ctx context.Context, rx *prescription.Prescription, pharmacyID string, b *billing.ChargeBreakdown, movements []inventory.StockMovement) error {
	if e.deps.Events == nil {
		return nil
	}
	ids := make([]string, 0, len(movements))
	for _, m := range movements {
		ids = append(ids, m.ID)
	}
	event, err := prescription.NewEvent(rx.ID, "Prescription", prescription.EventPrescriptionDispensed, prescription.PrescriptionDispensedData{
		PrescriptionID: rx.ID,
		PharmacyID:     pharmacyID,
		DoctorID:       rx.DoctorID,
		TotalCharge:    b.TotalCharge.String(),
		DrugCost:       b.DrugCharges.TotalCost.String(),
		MovementIDs:    ids,
		PartialLines:   b.PartialLines(),
		DispensedAt:    e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	return e.deps.Events.Publish(ctx, event.WithCorrelation(pharmacyID, rx.ID))
}

func (e *Engine) observeLines(b *billing.ChargeBreakdown) {
	for _, mc := range b.DrugCharges.MedicationBreakdown {
		e.deps.Metrics.ObserveLine(mc.Reason, mc.Partial && mc.Found)
	}
}
