package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errStore   = errors.New("connection refused")
	errInvalid = errors.New("invalid prescription")
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	cfg.Ignore = func(err error) bool { return errors.Is(err, errInvalid) }
	return cfg
}

type transitions struct {
	mu   sync.Mutex
	seen map[string][]State
}

func (tr *transitions) record(name string, s State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.seen[name] = append(tr.seen[name], s)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	tr := &transitions{seen: map[string][]State{}}
	cb, err := New("ph-1", testConfig(), tr.record, nil)
	require.NoError(t, err)
	ctx := context.Background()
	fail := func(context.Context) error { return errStore }

	assert.ErrorIs(t, cb.Execute(ctx, fail), errStore)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errStore)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err = cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, tr.seen["ph-1"])
}

func TestIgnoredErrorsDoNotTrip(t *testing.T) {
	cb, err := New("ph-1", testConfig(), nil, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return errInvalid })
		assert.ErrorIs(t, err, errInvalid)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRegistryIsolatesKeys(t *testing.T) {
	tr := &transitions{seen: map[string][]State{}}
	reg := NewRegistry(testConfig(), tr.record, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = reg.Execute(ctx, "ph-1", func(context.Context) error { return errStore })
	}
	require.NoError(t, reg.Execute(ctx, "ph-2", func(context.Context) error { return nil }))

	a, err := reg.Get("ph-1")
	require.NoError(t, err)
	b, err := reg.Get("ph-2")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, a.GetState())
	assert.Equal(t, StateClosed, b.GetState())

	statuses := reg.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "ph-1", statuses[0].Name)
	assert.Equal(t, StateOpen, statuses[0].State)
	assert.Equal(t, []State{StateClosed, StateOpen}, tr.seen["ph-1"])
	assert.Equal(t, []State{StateClosed}, tr.seen["ph-2"])
}

func TestStateValue(t *testing.T) {
	assert.Equal(t, 0, StateClosed.Value())
	assert.Equal(t, 1, StateOpen.Value())
	assert.Equal(t, 2, StateHalfOpen.Value())
}
