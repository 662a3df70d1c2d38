package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInbox(t *testing.T) (*Inbox, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	return NewInbox(repo, DefaultConfig(), nil), repo
}

func TestDispenseKey(t *testing.T) {
	a := DispenseKey("rx-1", "ph-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, DispenseKey("rx-1", "ph-1"))
	assert.NotEqual(t, a, DispenseKey("rx-1", "ph-2"))
	assert.NotEqual(t, a, DispenseKey("rx-2", "ph-1"))
}

func TestProcessRunsOnce(t *testing.T) {
	inbox, _ := newInbox(t)
	ctx := context.Background()
	calls := 0
	fn := func(context.Context, json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"total":"1750"}`), nil
	}

	first, err := inbox.Process(ctx, "k", "dispense", nil, fn)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := inbox.Process(ctx, "k", "dispense", nil, fn)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.JSONEq(t, `{"total":"1750"}`, string(second.Result))
	assert.Equal(t, 1, calls)
}

func TestProcessRetriesRecoverableErrors(t *testing.T) {
	inbox, repo := newInbox(t)
	ctx := context.Background()
	boom := errors.New("store unavailable")

	_, err := inbox.Process(ctx, "k", "dispense", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	entry, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StatusRecoverable, entry.Status)

	res, err := inbox.Process(ctx, "k", "dispense", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
}

func TestProcessTerminalErrors(t *testing.T) {
	inbox, _ := newInbox(t)
	ctx := context.Background()
	invalid := errors.New("invalid prescription")

	_, err := inbox.Process(ctx, "k", "dispense", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, Terminal(invalid)
	})
	assert.ErrorIs(t, err, invalid)
	assert.True(t, IsTerminal(err))

	_, err = inbox.Process(ctx, "k", "dispense", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Fatal("handler must not run again")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPreviouslyFailed)
}

func TestProcessInProgressAndStale(t *testing.T) {
	inbox, repo := newInbox(t)
	ctx := context.Background()
	require.NoError(t, repo.Start(ctx, "k", "dispense", nil, time.Now().Add(time.Hour)))

	_, err := inbox.Process(ctx, "k", "dispense", nil, nil)
	assert.ErrorIs(t, err, ErrMessageInProgress)

	inbox.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	res, err := inbox.Process(ctx, "k", "dispense", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
}

func TestSweep(t *testing.T) {
	inbox, repo := newInbox(t)
	ctx := context.Background()
	require.NoError(t, repo.Start(ctx, "expired", "dispense", nil, time.Now().Add(-time.Minute)))
	require.NoError(t, repo.Start(ctx, "stale", "dispense", nil, time.Now().Add(time.Hour)))

	inbox.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	inbox.sweep(ctx)

	_, err := repo.Get(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)
	entry, err := repo.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, StatusRecoverable, entry.Status)
}
