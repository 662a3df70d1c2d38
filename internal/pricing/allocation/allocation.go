// Package allocation splits a requested quantity across ordered pricing sources.
package allocation

import (
	"math"
	"time"

	"github.com/drfirst/go-rxcharge/internal/pricing/sources"
)

// epsilon is the relative tolerance below which a leftover quantity is
// treated as fully allocated.
const epsilon = 1e-9

// Entry is the quantity consumed from one source.
type Entry struct {
	InventoryItemID string     `json:"inventoryItemId"`
	BatchID         string     `json:"batchId,omitempty"`
	Quantity        float64    `json:"quantity"`
	UnitCost        float64    `json:"unitCost"`
	LineCost        float64    `json:"lineCost"`
	ExpiryDate      *time.Time `json:"expiryDate,omitempty"`
	// StockFactor converts Quantity back to stock units, see sources.Source.
	StockFactor float64 `json:"stockFactor"`
}

// StockQuantity is the quantity expressed in the source's stock units.
func (e Entry) StockQuantity() float64 {
	if e.StockFactor <= 0 {
		return e.Quantity
	}
	return e.Quantity / e.StockFactor
}

// Result is the allocation of one medication line.
type Result struct {
	RequestedQuantity float64 `json:"requestedQuantity"`
	PricedQuantity    float64 `json:"pricedQuantity"`
	RemainingQuantity float64 `json:"remainingQuantity"`
	AverageUnitCost   float64 `json:"averageUnitCost"`
	TotalCost         float64 `json:"totalCost"`
	Entries           []Entry `json:"entries"`
	FullyAllocated    bool    `json:"fullyAllocated"`
}

// Partial reports whether some of the requested quantity was not priced.
func (r Result) Partial() bool {
	return r.RemainingQuantity > 0 && r.PricedQuantity > 0
}

// Allocate consumes requested from srcs in the given order, taking
// min(remaining, available) from each until nothing remains.
func Allocate(requested float64, srcs []sources.Source) Result {
	if requested < 0 || math.IsNaN(requested) {
		requested = 0
	}
	res := Result{RequestedQuantity: requested, Entries: []Entry{}}
	remaining := requested
	for _, src := range srcs {
		if remaining <= 0 {
			break
		}
		if src.AvailableQuantity <= 0 {
			continue
		}
		take := math.Min(remaining, src.AvailableQuantity)
		res.Entries = append(res.Entries, newEntry(src, take))
		res.TotalCost += take * src.UnitCost
		remaining -= take
		if remaining <= requested*epsilon {
			remaining = 0
		}
	}
	res.PricedQuantity = requested - remaining
	return finish(res)
}

// PriceAtFirstSource prices the full requested quantity at the unit cost of
// the first source without regard to its available stock.
func PriceAtFirstSource(requested float64, srcs []sources.Source) Result {
	if requested < 0 || math.IsNaN(requested) {
		requested = 0
	}
	res := Result{RequestedQuantity: requested, Entries: []Entry{}}
	if len(srcs) == 0 || requested == 0 {
		return finish(res)
	}
	res.Entries = append(res.Entries, newEntry(srcs[0], requested))
	res.TotalCost = requested * srcs[0].UnitCost
	res.PricedQuantity = requested
	return finish(res)
}

func newEntry(src sources.Source, quantity float64) Entry {
	return Entry{
		InventoryItemID: src.InventoryItemID,
		BatchID:         src.BatchID,
		Quantity:        quantity,
		UnitCost:        src.UnitCost,
		LineCost:        quantity * src.UnitCost,
		ExpiryDate:      src.ExpiryDate,
		StockFactor:     src.StockFactor,
	}
}

// finish derives the remaining quantity from the priced one so the two always
// add up to the request.
func finish(res Result) Result {
	if res.PricedQuantity > res.RequestedQuantity {
		res.PricedQuantity = res.RequestedQuantity
	}
	res.RemainingQuantity = res.RequestedQuantity - res.PricedQuantity
	if res.PricedQuantity > 0 {
		res.AverageUnitCost = res.TotalCost / res.PricedQuantity
	}
	res.FullyAllocated = res.RemainingQuantity <= 0
	return res
}
