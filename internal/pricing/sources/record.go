package sources

import (
	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
)

// Record is an inventory row resolved into one of its two shapes:
// SimpleRecord or BatchedRecord.
type Record interface {
	Row() inventory.Item
	isRecord()
}

// SimpleRecord is a row without batches; the row itself is the only source.
type SimpleRecord struct {
	Item inventory.Item
}

// BatchedRecord is a row whose stock is tracked per batch. Batches holds the
// active batches only.
type BatchedRecord struct {
	Item    inventory.Item
	Batches []inventory.Batch
}

func (r SimpleRecord) Row() inventory.Item  { return r.Item }
func (r BatchedRecord) Row() inventory.Item { return r.Item }

func (SimpleRecord) isRecord()  {}
func (BatchedRecord) isRecord() {}

// Classify resolves the shape of an inventory row. A row that carries batch
// records is batched even when none of them is active.
func Classify(item inventory.Item) Record {
	if len(item.Batches) == 0 {
		return SimpleRecord{Item: item}
	}
	active := make([]inventory.Batch, 0, len(item.Batches))
	for _, b := range item.Batches {
		if b.IsActive() {
			active = append(active, b)
		}
	}
	return BatchedRecord{Item: item, Batches: active}
}

// rawSource is a source before pricing and unit normalisation.
type rawSource struct {
	item  inventory.Item
	batch *inventory.Batch
}

func expand(rec Record, onlyBatch string) []rawSource {
	switch r := rec.(type) {
	case SimpleRecord:
		return []rawSource{{item: r.Item}}
	case BatchedRecord:
		out := make([]rawSource, 0, len(r.Batches))
		for i := range r.Batches {
			if onlyBatch != "" && r.Batches[i].ID != onlyBatch {
				continue
			}
			out = append(out, rawSource{item: r.Item, batch: &r.Batches[i]})
		}
		return out
	default:
		return nil
	}
}
