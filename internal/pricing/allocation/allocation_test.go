package allocation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxcharge/internal/pricing/sources"
)

func TestAllocateFIFOAcrossBatches(t *testing.T) {
	srcs := []sources.Source{
		{InventoryItemID: "cream", BatchID: "early", AvailableQuantity: 2, UnitCost: 10, StockFactor: 1},
		{InventoryItemID: "cream", BatchID: "late", AvailableQuantity: 2, UnitCost: 20, StockFactor: 1},
	}

	res := Allocate(3, srcs)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, 2.0, res.Entries[0].Quantity)
	assert.Equal(t, 10.0, res.Entries[0].UnitCost)
	assert.Equal(t, 1.0, res.Entries[1].Quantity)
	assert.Equal(t, 20.0, res.Entries[1].UnitCost)
	assert.Equal(t, 40.0, res.TotalCost)
	assert.Equal(t, 3.0, res.PricedQuantity)
	assert.True(t, res.FullyAllocated)
	assert.False(t, res.Partial())
	assert.InDelta(t, 40.0/3, res.AverageUnitCost, 1e-9)
}

func TestAllocateFractionalAvailabilityIsConserved(t *testing.T) {
	srcs := []sources.Source{
		{InventoryItemID: "a", AvailableQuantity: 0.7, UnitCost: 1},
		{InventoryItemID: "b", AvailableQuantity: 0.2, UnitCost: 1},
		{InventoryItemID: "c", AvailableQuantity: 0.1, UnitCost: 1},
	}

	res := Allocate(1.0, srcs)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, 1.0, res.PricedQuantity)
	assert.Equal(t, 0.0, res.RemainingQuantity)
	assert.True(t, res.FullyAllocated)
	assert.False(t, res.Partial())

	// per-ml sources normalised from 100 ml bottles
	res = Allocate(70, []sources.Source{
		{InventoryItemID: "syrup", BatchID: "b1", AvailableQuantity: 0.6 * 100, UnitCost: 0.5, StockFactor: 100},
		{InventoryItemID: "syrup", BatchID: "b2", AvailableQuantity: 0.1 * 100, UnitCost: 0.5, StockFactor: 100},
	})
	assert.True(t, res.FullyAllocated)
	assert.Equal(t, res.RequestedQuantity, res.PricedQuantity+res.RemainingQuantity)
	assert.InDelta(t, 0.7, res.Entries[0].StockQuantity()+res.Entries[1].StockQuantity(), 1e-12)
}

func TestAllocateCarriesExpiry(t *testing.T) {
	expiry := time.Date(2027, time.March, 1, 0, 0, 0, 0, time.UTC)
	res := Allocate(2, []sources.Source{{InventoryItemID: "a", AvailableQuantity: 5, UnitCost: 3, ExpiryDate: &expiry}})
	require.Len(t, res.Entries, 1)
	assert.Equal(t, &expiry, res.Entries[0].ExpiryDate)
}

func TestAllocateMeasuredLiquid(t *testing.T) {
	res := Allocate(20, []sources.Source{{InventoryItemID: "syrup", AvailableQuantity: 500, UnitCost: 20, StockFactor: 1}})
	assert.Equal(t, 400.0, res.TotalCost)
	assert.True(t, res.FullyAllocated)
}

func TestAllocatePartial(t *testing.T) {
	res := Allocate(10, []sources.Source{
		{InventoryItemID: "a", AvailableQuantity: 4, UnitCost: 5},
		{InventoryItemID: "b", AvailableQuantity: 0, UnitCost: 1},
	})
	assert.Equal(t, 4.0, res.PricedQuantity)
	assert.Equal(t, 6.0, res.RemainingQuantity)
	assert.Equal(t, 20.0, res.TotalCost)
	assert.False(t, res.FullyAllocated)
	assert.True(t, res.Partial())
	assert.Len(t, res.Entries, 1)
}

func TestAllocateNothing(t *testing.T) {
	res := Allocate(5, nil)
	assert.Equal(t, 0.0, res.AverageUnitCost)
	assert.Equal(t, 5.0, res.RemainingQuantity)
	assert.NotNil(t, res.Entries)

	res = Allocate(0, []sources.Source{{AvailableQuantity: 3, UnitCost: 1}})
	assert.True(t, res.FullyAllocated)
	assert.Empty(t, res.Entries)
}

func TestAllocateConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := rng.Intn(5)
		srcs := make([]sources.Source, n)
		for j := range srcs {
			srcs[j] = sources.Source{
				InventoryItemID:   "item",
				AvailableQuantity: float64(rng.Intn(10) + 1),
				UnitCost:          float64(rng.Intn(100)),
			}
		}
		requested := float64(rng.Intn(25))

		res := Allocate(requested, srcs)
		assert.Equal(t, requested, res.PricedQuantity+res.RemainingQuantity)
		assert.LessOrEqual(t, res.PricedQuantity, requested)
		for k, e := range res.Entries {
			assert.LessOrEqual(t, e.Quantity, srcs[k].AvailableQuantity)
		}
	}
}

func TestPriceAtFirstSource(t *testing.T) {
	srcs := []sources.Source{
		{InventoryItemID: "a", AvailableQuantity: 0, UnitCost: 7},
		{InventoryItemID: "b", AvailableQuantity: 100, UnitCost: 1},
	}
	res := PriceAtFirstSource(3, srcs)
	assert.Equal(t, 21.0, res.TotalCost)
	assert.True(t, res.FullyAllocated)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "a", res.Entries[0].InventoryItemID)

	assert.False(t, PriceAtFirstSource(3, nil).FullyAllocated)
}

func TestEntryStockQuantity(t *testing.T) {
	assert.Equal(t, 0.6, Entry{Quantity: 60, StockFactor: 100}.StockQuantity())
	assert.Equal(t, 2.0, Entry{Quantity: 2}.StockQuantity())
}
