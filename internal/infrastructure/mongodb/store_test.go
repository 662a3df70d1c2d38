package mongodb

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/ledger"
)

func TestIncrementUpdate(t *testing.T) {
	filter, update := incrementUpdate("ph-1", inventory.StockRef{ItemID: "amoxil"}, -5)
	assert.Equal(t, bson.M{"pharmacyId": "ph-1", "itemId": "amoxil"}, filter)
	assert.Equal(t, bson.M{"$inc": bson.M{"currentStock": -5.0}}, update)

	filter, update = incrementUpdate("ph-1", inventory.StockRef{ItemID: "fucidin", BatchID: "b1"}, -2)
	assert.Equal(t, "b1", filter["batches.id"])
	assert.Equal(t, bson.M{"$inc": bson.M{"currentStock": -2.0, "batches.$.quantity": -2.0}}, update)
}

// Set RXCHARGE_TEST_MONGO_URI to a replica set to run this test.
func TestConcurrentDispatches(t *testing.T) {
	uri := os.Getenv("RXCHARGE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("RXCHARGE_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	store, err := Connect(ctx, uri, "rxcharge_test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	require.NoError(t, store.EnsureIndexes(ctx))

	pharmacyID := "ph-" + uuid.NewString()
	require.NoError(t, store.UpsertItem(ctx, inventory.Item{
		ID: "amoxil", PharmacyID: pharmacyID, BrandName: "Amoxil", CurrentStock: 500,
		Batches: []inventory.Batch{{ID: "b1", Quantity: 500}},
	}))

	l := ledger.New(store, nil, nil)
	require.True(t, l.Atomic())

	var wg sync.WaitGroup
	for _, q := range []float64{5, 7} {
		wg.Add(1)
		go func(q float64) {
			defer wg.Done()
			_, err := l.ApplyMovement(ctx, pharmacyID, inventory.StockRef{ItemID: "amoxil", BatchID: "b1"}, q, inventory.MovementDispatch, "rx-1")
			assert.NoError(t, err)
		}(q)
	}
	wg.Wait()

	items, err := store.Snapshot(ctx, pharmacyID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 488.0, items[0].CurrentStock)
	assert.Equal(t, 488.0, items[0].Batches[0].Quantity)

	movements, err := store.ListMovements(ctx, pharmacyID, "amoxil")
	require.NoError(t, err)
	assert.Len(t, movements, 2)

	err = store.IncrementStock(ctx, pharmacyID, inventory.StockRef{ItemID: "amoxil", BatchID: "missing"}, -1)
	assert.ErrorIs(t, err, inventory.ErrItemNotFound)
}
