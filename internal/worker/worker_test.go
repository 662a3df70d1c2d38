package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxcharge/internal/billing"
	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxcharge/internal/ledger"
	"github.com/drfirst/go-rxcharge/internal/observability/metrics"
	"github.com/drfirst/go-rxcharge/pkg/circuitbreaker"
	"github.com/drfirst/go-rxcharge/pkg/idempotency"
)

type fakeDispenser struct {
	mu    sync.Mutex
	calls map[string]int
	errs  []error
}

func (f *fakeDispenser) DispenseByID(_ context.Context, prescriptionID, pharmacyID string) (*billing.ChargeBreakdown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[prescriptionID]++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &billing.ChargeBreakdown{PrescriptionID: prescriptionID, TotalCharge: decimal.NewFromInt(635)}, nil
}

func (f *fakeDispenser) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []string
}

func (p *fakeProducer) ProduceMessage(_ context.Context, topic, _ string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, topic+":"+string(value))
	return nil
}

type harness struct {
	worker    *Worker
	dispenser *fakeDispenser
	dlq       *fakeProducer
	repo      *idempotency.MemoryRepository
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T, errs ...error) *harness {
	t.Helper()
	h := &harness{
		dispenser: &fakeDispenser{calls: map[string]int{}, errs: errs},
		dlq:       &fakeProducer{},
		repo:      idempotency.NewMemoryRepository(),
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	cfg := DefaultConfig()
	cfg.Pool.Workers = 2
	cfg.Pool.RetryDelay = time.Millisecond
	cfg.Breaker.FailureThreshold = 3
	cfg.Breaker.Timeout = time.Hour

	w, err := New(h.dispenser, h.repo, h.dlq, cfg, h.metrics, nil)
	require.NoError(t, err)
	w.Start()
	t.Cleanup(func() { w.Stop() })
	h.worker = w
	return h
}

func request(rx, pharmacy string) *redpanda.ConsumedMessage {
	value, _ := json.Marshal(redpanda.DispenseRequest{RequestID: "req-" + rx, PrescriptionID: rx, PharmacyID: pharmacy})
	return &redpanda.ConsumedMessage{Topic: redpanda.TopicDispenseRequests, Key: []byte(pharmacy), Value: value}
}

func TestDuplicateRequestsDispenseOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.worker.Handle(ctx, request("rx-1", "ph-1")))
	require.NoError(t, h.worker.Handle(ctx, request("rx-1", "ph-1")))
	assert.Equal(t, 1, h.dispenser.count("rx-1"))

	entry, err := h.repo.Get(ctx, idempotency.DispenseKey("rx-1", "ph-1"))
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFinished, entry.Status)

	var b billing.ChargeBreakdown
	require.NoError(t, json.Unmarshal(entry.Result, &b))
	assert.True(t, b.TotalCharge.Equal(decimal.NewFromInt(635)))

	require.NoError(t, h.worker.Handle(ctx, request("rx-1", "ph-2")))
	assert.Equal(t, 2, h.dispenser.count("rx-1"))
}

func TestMalformedRequestIsDeadLettered(t *testing.T) {
	h := newHarness(t)
	msg := &redpanda.ConsumedMessage{Topic: redpanda.TopicDispenseRequests, Value: []byte("not json")}

	require.NoError(t, h.worker.Handle(context.Background(), msg))
	require.Len(t, h.dlq.messages, 1)
	assert.Contains(t, h.dlq.messages[0], redpanda.TopicDeadLetter+":")
	assert.Contains(t, h.dlq.messages[0], "invalid dispense request")
}

func TestRejectedPrescriptionFailsPermanently(t *testing.T) {
	h := newHarness(t, fmt.Errorf("load prescription rx-9: %w", prescription.ErrNotFound))
	ctx := context.Background()

	require.NoError(t, h.worker.Handle(ctx, request("rx-9", "ph-1")))
	assert.Len(t, h.dlq.messages, 1)
	assert.Equal(t, 1, h.dispenser.count("rx-9"))

	entry, err := h.repo.Get(ctx, idempotency.DispenseKey("rx-9", "ph-1"))
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFailed, entry.Status)

	// a redelivery is skipped without dispensing or dead lettering again
	require.NoError(t, h.worker.Handle(ctx, request("rx-9", "ph-1")))
	assert.Equal(t, 1, h.dispenser.count("rx-9"))
	assert.Len(t, h.dlq.messages, 1)
}

func TestLedgerFailureIsNotRepeated(t *testing.T) {
	merr := &ledger.MovementError{Stage: ledger.StageIncrement, Err: inventory.ErrItemNotFound}
	h := newHarness(t, fmt.Errorf("record stock for Amoxil: %w", merr))

	require.NoError(t, h.worker.Handle(context.Background(), request("rx-2", "ph-1")))
	assert.Equal(t, 1, h.dispenser.count("rx-2"))
	assert.Len(t, h.dlq.messages, 1)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	boom := errors.New("connection reset")
	h := newHarness(t, boom, nil)

	require.NoError(t, h.worker.Handle(context.Background(), request("rx-3", "ph-1")))
	assert.Equal(t, 2, h.dispenser.count("rx-3"))
	assert.Empty(t, h.dlq.messages)
}

func TestOpenBreakerLeavesRequestForRedelivery(t *testing.T) {
	boom := errors.New("connection refused")
	h := newHarness(t, boom, boom, boom, boom)
	ctx := context.Background()

	err := h.worker.Handle(ctx, request("rx-4", "ph-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 3, h.dispenser.count("rx-4"))
	assert.Empty(t, h.dlq.messages)

	entry, err := h.repo.Get(ctx, idempotency.DispenseKey("rx-4", "ph-1"))
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusRecoverable, entry.Status)

	stats := h.worker.Stats()
	require.Len(t, stats.Breakers, 1)
	assert.Equal(t, circuitbreaker.StateOpen, stats.Breakers[0].State)

	// other pharmacies keep dispensing
	require.NoError(t, h.worker.Handle(ctx, request("rx-5", "ph-2")))
}

func TestClassification(t *testing.T) {
	verr := errors.Join(&prescription.ValidationError{Field: "id", Message: "required"})
	merr := fmt.Errorf("record stock: %w", &ledger.MovementError{Err: errors.New("io")})
	open := fmt.Errorf("%w: ph-1", circuitbreaker.ErrOpen)
	boom := errors.New("timeout")

	assert.True(t, Rejected(verr))
	assert.True(t, Rejected(fmt.Errorf("profile: %w", billing.ErrProfileNotFound)))
	assert.False(t, Rejected(merr))

	assert.True(t, Terminal(merr))
	assert.False(t, Terminal(open))
	assert.False(t, Terminal(boom))

	assert.False(t, Retryable(open))
	assert.False(t, Retryable(verr))
	assert.True(t, Retryable(boom))
}
