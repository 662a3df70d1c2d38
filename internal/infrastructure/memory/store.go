// Package memory provides an in-process inventory store for offline quoting
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
)

// Store keeps inventory in memory. All operations hold one mutex, so each
// increment is atomic.
type Store struct {
	mu        sync.Mutex
	items     map[string]map[string]*inventory.Item
	order     map[string][]string
	movements []inventory.StockMovement
}

// New creates an empty store.
func New() *Store {
	return &Store{
		items: make(map[string]map[string]*inventory.Item),
		order: make(map[string][]string),
	}
}

// Put inserts or replaces an item under its pharmacy.
func (s *Store) Put(item inventory.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.items[item.PharmacyID]
	if !ok {
		rows = make(map[string]*inventory.Item)
		s.items[item.PharmacyID] = rows
	}
	if _, exists := rows[item.ID]; !exists {
		s.order[item.PharmacyID] = append(s.order[item.PharmacyID], item.ID)
	}
	c := clone(item)
	rows[item.ID] = &c
}

// UpsertItem is Put with the signature of the database stores.
func (s *Store) UpsertItem(_ context.Context, item inventory.Item) error {
	s.Put(item)
	return nil
}

// Load puts every item under pharmacyID.
func (s *Store) Load(pharmacyID string, items []inventory.Item) {
	for _, item := range items {
		item.PharmacyID = pharmacyID
		s.Put(item)
	}
}

// Snapshot returns copies of the pharmacy's items in insertion order.
func (s *Store) Snapshot(_ context.Context, pharmacyID string) ([]inventory.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]inventory.Item, 0, len(s.order[pharmacyID]))
	for _, id := range s.order[pharmacyID] {
		out = append(out, clone(*s.items[pharmacyID][id]))
	}
	return out, nil
}

// IncrementStock adds delta to the item counter and, when ref names a batch,
// to that batch as well.
func (s *Store) IncrementStock(_ context.Context, pharmacyID string, ref inventory.StockRef, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[pharmacyID][ref.ItemID]
	if !ok {
		return fmt.Errorf("%w: %s", inventory.ErrItemNotFound, ref.ItemID)
	}
	if ref.BatchID != "" {
		found := false
		for i := range item.Batches {
			if item.Batches[i].ID == ref.BatchID {
				item.Batches[i].Quantity += delta
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: batch %s of %s", inventory.ErrItemNotFound, ref.BatchID, ref.ItemID)
		}
	}
	item.CurrentStock += delta
	return nil
}

// AppendMovement appends m to the movement log.
func (s *Store) AppendMovement(_ context.Context, m *inventory.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, *m)
	return nil
}

// ListMovements returns the item's movements in append order.
func (s *Store) ListMovements(_ context.Context, pharmacyID, itemID string) ([]inventory.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []inventory.StockMovement
	for _, m := range s.movements {
		if m.PharmacyID == pharmacyID && m.ItemID == itemID {
			out = append(out, m)
		}
	}
	return out, nil
}

func clone(item inventory.Item) inventory.Item {
	if item.Batches != nil {
		item.Batches = append([]inventory.Batch(nil), item.Batches...)
	}
	return item
}
