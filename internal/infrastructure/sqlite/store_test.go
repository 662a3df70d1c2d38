package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/ledger"
)

const pharmacyID = "ph-1"

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "inventory.db")+"?_time_format=sqlite", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	exp := time.Date(2027, time.May, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertItem(ctx, inventory.Item{
		ID: "fucidin", PharmacyID: pharmacyID, BrandName: "Fucidin", DosageForm: "Cream",
		ContainerSize: "15", ContainerUnit: "g", CurrentStock: 4,
		Batches: []inventory.Batch{
			{ID: "b1", Quantity: 2, SellingPrice: "10", ExpiryDate: &exp},
			{ID: "b2", Quantity: 2, SellingPrice: "20", Status: inventory.BatchRecalled},
		},
	}))
	require.NoError(t, s.UpsertItem(ctx, inventory.Item{ID: "other", PharmacyID: "ph-2", BrandName: "Other"}))

	items, err := s.Snapshot(ctx, pharmacyID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, "Fucidin", item.BrandName)
	assert.Equal(t, "15", item.ContainerSize)
	assert.Nil(t, item.ExpiryDate)
	require.Len(t, item.Batches, 2)
	require.NotNil(t, item.Batches[0].ExpiryDate)
	assert.True(t, exp.Equal(*item.Batches[0].ExpiryDate))
	assert.Equal(t, inventory.BatchActive, item.Batches[0].Status)
	assert.Equal(t, inventory.BatchRecalled, item.Batches[1].Status)
}

func TestConcurrentDispatchesThroughLedger(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertItem(ctx, inventory.Item{ID: "amoxil", PharmacyID: pharmacyID, BrandName: "Amoxil", CurrentStock: 500}))

	l := ledger.New(s, nil, nil)
	require.True(t, l.Atomic())

	var wg sync.WaitGroup
	for _, q := range []float64{5, 7} {
		wg.Add(1)
		go func(q float64) {
			defer wg.Done()
			_, err := l.ApplyMovement(ctx, pharmacyID, inventory.StockRef{ItemID: "amoxil"}, q, inventory.MovementDispatch, "rx-1")
			assert.NoError(t, err)
		}(q)
	}
	wg.Wait()

	items, err := s.Snapshot(ctx, pharmacyID)
	require.NoError(t, err)
	assert.Equal(t, 488.0, items[0].CurrentStock)

	movements, err := s.ListMovements(ctx, pharmacyID, "amoxil")
	require.NoError(t, err)
	assert.Len(t, movements, 2)
}

func TestApplyMovementUpdatesBatchAndItem(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertItem(ctx, inventory.Item{
		ID: "fucidin", PharmacyID: pharmacyID, BrandName: "Fucidin", CurrentStock: 4,
		Batches: []inventory.Batch{{ID: "b1", Quantity: 4}},
	}))

	err := s.ApplyMovement(ctx, &inventory.StockMovement{
		ID: "m1", PharmacyID: pharmacyID, ItemID: "fucidin", BatchID: "b1",
		Type: inventory.MovementDispatch, Quantity: 3, Delta: -3,
	})
	require.NoError(t, err)

	items, err := s.Snapshot(ctx, pharmacyID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, items[0].CurrentStock)
	assert.Equal(t, 1.0, items[0].Batches[0].Quantity)
}

func TestApplyMovementRollsBackOnMissingBatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertItem(ctx, inventory.Item{ID: "amoxil", PharmacyID: pharmacyID, BrandName: "Amoxil", CurrentStock: 10}))

	err := s.ApplyMovement(ctx, &inventory.StockMovement{
		ID: "m1", PharmacyID: pharmacyID, ItemID: "amoxil", BatchID: "missing",
		Type: inventory.MovementDispatch, Quantity: 1, Delta: -1,
	})
	assert.ErrorIs(t, err, inventory.ErrItemNotFound)

	movements, err := s.ListMovements(ctx, pharmacyID, "amoxil")
	require.NoError(t, err)
	assert.Empty(t, movements)

	items, err := s.Snapshot(ctx, pharmacyID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, items[0].CurrentStock)
}
