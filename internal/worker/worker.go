// Package worker turns dispense requests consumed from Redpanda into engine
// dispenses. Each request runs at most once under the idempotency inbox,
// on the worker pool, through the circuit breaker of its pharmacy.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxcharge/internal/billing"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/engine"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxcharge/internal/ledger"
	"github.com/drfirst/go-rxcharge/internal/observability/metrics"
	"github.com/drfirst/go-rxcharge/pkg/circuitbreaker"
	"github.com/drfirst/go-rxcharge/pkg/idempotency"
	"github.com/drfirst/go-rxcharge/pkg/workerpool"
)

const handlerName = "dispense"

// Dispenser dispenses a stored prescription at a pharmacy.
type Dispenser interface {
	DispenseByID(ctx context.Context, prescriptionID, pharmacyID string) (*billing.ChargeBreakdown, error)
}

// Config groups the worker's pool, breaker and inbox settings.
type Config struct {
	Pool    workerpool.Config
	Breaker circuitbreaker.Config
	Inbox   idempotency.Config
}

// DefaultConfig returns defaults for every part.
func DefaultConfig() Config {
	return Config{
		Pool:    workerpool.DefaultConfig(),
		Breaker: circuitbreaker.DefaultConfig(),
		Inbox:   idempotency.DefaultConfig(),
	}
}

// Worker handles dispense requests.
type Worker struct {
	dispenser  Dispenser
	inbox      *idempotency.Inbox
	breakers   *circuitbreaker.Registry
	pool       *workerpool.Pool
	deadLetter redpanda.MessageProducer
	logger     *zap.Logger
}

// New wires a worker. deadLetter receives requests that can never succeed.
func New(d Dispenser, repo idempotency.Repository, deadLetter redpanda.MessageProducer, cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Worker{
		dispenser:  d,
		deadLetter: deadLetter,
		logger:     logger,
	}

	cfg.Breaker.Ignore = Rejected
	w.breakers = circuitbreaker.NewRegistry(cfg.Breaker, func(name string, s circuitbreaker.State) {
		m.SetBreakerState(name, s.Value())
	}, logger.Named("breaker"))

	cfg.Pool.Retryable = Retryable
	cfg.Pool.OnQueueDepth = m.SetQueueDepth
	pool, err := workerpool.New(cfg.Pool, w.runTask, logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	w.pool = pool

	w.inbox = idempotency.NewInbox(repo, cfg.Inbox, logger.Named("inbox"))
	return w, nil
}

// Start launches the pool workers and the inbox cleanup loop.
func (w *Worker) Start() {
	w.pool.Start()
	w.inbox.StartCleanup()
}

// Stop drains the pool and stops the cleanup loop.
func (w *Worker) Stop() error {
	w.inbox.Stop()
	return w.pool.Stop()
}

// Handle processes one consumed dispense request. It returns an error only
// when the message should be redelivered.
func (w *Worker) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	req, err := redpanda.DecodeDispenseRequest(msg)
	if err != nil {
		return w.reject(ctx, msg, err)
	}

	log := w.logger.With(
		zap.String("request_id", req.RequestID),
		zap.String("prescription_id", req.PrescriptionID),
		zap.String("pharmacy_id", req.PharmacyID))

	key := idempotency.DispenseKey(req.PrescriptionID, req.PharmacyID)
	res, err := w.inbox.Process(ctx, key, handlerName, msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		b, err := w.dispense(ctx, key, req)
		if err != nil {
			if Terminal(err) {
				return nil, idempotency.Terminal(err)
			}
			return nil, err
		}
		return json.Marshal(b)
	})

	switch {
	case err == nil:
		if !res.IsNew && !res.WasRecovered {
			log.Info("duplicate dispense request ignored")
		}
		return nil
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		log.Info("dispense request previously failed, skipping")
		return nil
	case idempotency.IsTerminal(err):
		return w.reject(ctx, msg, err)
	default:
		log.Warn("dispense request will be retried", zap.Error(err))
		return err
	}
}

func (w *Worker) dispense(ctx context.Context, key string, req *redpanda.DispenseRequest) (*billing.ChargeBreakdown, error) {
	result, err := w.pool.SubmitWait(ctx, &workerpool.Task{ID: key, Payload: req, Context: ctx})
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return result.Data.(*billing.ChargeBreakdown), nil
}

func (w *Worker) runTask(ctx context.Context, task *workerpool.Task) (interface{}, error) {
	req := task.Payload.(*redpanda.DispenseRequest)
	var b *billing.ChargeBreakdown
	err := w.breakers.Execute(ctx, req.PharmacyID, func(ctx context.Context) error {
		var err error
		b, err = w.dispenser.DispenseByID(ctx, req.PrescriptionID, req.PharmacyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (w *Worker) reject(ctx context.Context, msg *redpanda.ConsumedMessage, cause error) error {
	w.logger.Warn("dispense request rejected",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))
	if w.deadLetter == nil {
		return nil
	}
	if err := redpanda.SendToDeadLetter(ctx, w.deadLetter, msg, cause); err != nil {
		return fmt.Errorf("dead letter: %w", err)
	}
	return nil
}

// Stats reports pool counters and breaker states.
type Stats struct {
	Pool     workerpool.Stats              `json:"pool"`
	Breakers []circuitbreaker.HealthStatus `json:"breakers"`
}

func (w *Worker) Stats() Stats {
	return Stats{Pool: w.pool.Stats(), Breakers: w.breakers.Statuses()}
}

// Healthy reports whether the pool queue has room.
func (w *Worker) Healthy() bool { return w.pool.IsHealthy() }

// Rejected reports errors caused by the request itself rather than by the
// stores behind it.
func Rejected(err error) bool {
	var verr *prescription.ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, prescription.ErrNotFound) ||
		errors.Is(err, billing.ErrProfileNotFound) ||
		errors.Is(err, redpanda.ErrInvalidRequest) ||
		errors.Is(err, engine.ErrNotConfigured)
}

// Terminal reports errors after which the request must not run again. A
// ledger failure leaves earlier movements applied, so repeating the
// dispense would move their stock twice.
func Terminal(err error) bool {
	var merr *ledger.MovementError
	return errors.As(err, &merr) || Rejected(err)
}

// Retryable reports whether the pool should try the dispense again right
// away. An open breaker is left to redelivery.
func Retryable(err error) bool {
	return !Terminal(err) && !errors.Is(err, circuitbreaker.ErrOpen)
}
