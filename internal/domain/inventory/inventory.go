// Package inventory models pharmacy stock records and the movement ledger.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchActive   BatchStatus = "active"
	BatchDepleted BatchStatus = "depleted"
	BatchExpired  BatchStatus = "expired"
	BatchRecalled BatchStatus = "recalled"
)

// Batch is one received lot of an inventory item.
type Batch struct {
	ID           string      `json:"id" bson:"id" db:"id"`
	BatchNumber  string      `json:"batchNumber,omitempty" bson:"batchNumber,omitempty" db:"batch_number"`
	Quantity     float64     `json:"quantity" bson:"quantity" db:"quantity"`
	SellingPrice string      `json:"sellingPrice,omitempty" bson:"sellingPrice,omitempty" db:"selling_price"`
	ExpiryDate   *time.Time  `json:"expiryDate,omitempty" bson:"expiryDate,omitempty" db:"expiry_date"`
	Status       BatchStatus `json:"status" bson:"status" db:"status"`
}

// IsActive reports whether the batch may be dispensed from. An empty status
// is treated as active for records written before statuses existed.
func (b Batch) IsActive() bool {
	return b.Status == "" || b.Status == BatchActive
}

// Item is an inventory row as stored for a pharmacy.
type Item struct {
	ID            string     `json:"id" bson:"itemId" db:"id"`
	PharmacyID    string     `json:"pharmacyId" bson:"pharmacyId" db:"pharmacy_id"`
	BrandName     string     `json:"brandName" bson:"brandName" db:"brand_name"`
	GenericName   string     `json:"genericName,omitempty" bson:"genericName,omitempty" db:"generic_name"`
	DosageForm    string     `json:"dosageForm,omitempty" bson:"dosageForm,omitempty" db:"dosage_form"`
	Strength      string     `json:"strength,omitempty" bson:"strength,omitempty" db:"strength"`
	StrengthUnit  string     `json:"strengthUnit,omitempty" bson:"strengthUnit,omitempty" db:"strength_unit"`
	ContainerSize string     `json:"containerSize,omitempty" bson:"containerSize,omitempty" db:"container_size"`
	ContainerUnit string     `json:"containerUnit,omitempty" bson:"containerUnit,omitempty" db:"container_unit"`
	SellingPrice  string     `json:"sellingPrice,omitempty" bson:"sellingPrice,omitempty" db:"selling_price"`
	CurrentStock  float64    `json:"currentStock" bson:"currentStock" db:"current_stock"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty" bson:"expiryDate,omitempty" db:"expiry_date"`
	Batches       []Batch    `json:"batches,omitempty" bson:"batches,omitempty" db:"-"`
}

// MovementType classifies a stock movement.
type MovementType string

const (
	MovementPurchase   MovementType = "purchase"
	MovementSale       MovementType = "sale"
	MovementDispatch   MovementType = "dispatch"
	MovementAdjustment MovementType = "adjustment"
	MovementTransfer   MovementType = "transfer"
	MovementExpired    MovementType = "expired"
	MovementDamaged    MovementType = "damaged"
	MovementReturn     MovementType = "return"
)

// depleting movement types always remove stock
var depleting = map[MovementType]bool{
	MovementDispatch: true,
	MovementSale:     true,
	MovementExpired:  true,
	MovementDamaged:  true,
}

var passthrough = map[MovementType]bool{
	MovementPurchase:   true,
	MovementAdjustment: true,
	MovementTransfer:   true,
	MovementReturn:     true,
}

// ErrUnknownMovementType is returned for movement types outside the ledger table.
var ErrUnknownMovementType = errors.New("unknown movement type")

// ParseMovementType validates a movement type label.
func ParseMovementType(s string) (MovementType, error) {
	t := MovementType(strings.ToLower(strings.TrimSpace(s)))
	if !depleting[t] && !passthrough[t] {
		return "", fmt.Errorf("%w: %q", ErrUnknownMovementType, s)
	}
	return t, nil
}

// SignedDelta resolves the stock delta for a movement. Depleting types always
// subtract the magnitude; the others apply the value as given.
func SignedDelta(t MovementType, quantity float64) (float64, error) {
	switch {
	case depleting[t]:
		return -math.Abs(quantity), nil
	case passthrough[t]:
		return quantity, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMovementType, t)
	}
}

// StockRef addresses the counter a movement applies to.
type StockRef struct {
	ItemID  string `json:"itemId"`
	BatchID string `json:"batchId,omitempty"`
}

// StockMovement is an immutable ledger record.
type StockMovement struct {
	ID         string       `json:"id" bson:"_id" db:"id"`
	PharmacyID string       `json:"pharmacyId" bson:"pharmacyId" db:"pharmacy_id"`
	ItemID     string       `json:"itemId" bson:"itemId" db:"item_id"`
	BatchID    string       `json:"batchId,omitempty" bson:"batchId,omitempty" db:"batch_id"`
	Type       MovementType `json:"type" bson:"type" db:"type"`
	Quantity   float64      `json:"quantity" bson:"quantity" db:"quantity"`
	Delta      float64      `json:"delta" bson:"delta" db:"delta"`
	Reference  string       `json:"reference,omitempty" bson:"reference,omitempty" db:"reference"`
	CreatedAt  time.Time    `json:"createdAt" bson:"createdAt" db:"created_at"`
}

// ErrItemNotFound is returned when a stock counter does not exist.
var ErrItemNotFound = errors.New("inventory item not found")

// Store is the record-store collaborator for pharmacy inventory.
type Store interface {
	// Snapshot returns every inventory row of a pharmacy with its batches.
	Snapshot(ctx context.Context, pharmacyID string) ([]Item, error)
	// IncrementStock adds delta to the stock counter in a single atomic
	// operation at the storage layer.
	IncrementStock(ctx context.Context, pharmacyID string, ref StockRef, delta float64) error
	// AppendMovement appends an immutable movement record.
	AppendMovement(ctx context.Context, m *StockMovement) error
	// ListMovements returns the movements recorded for an item, oldest first.
	ListMovements(ctx context.Context, pharmacyID, itemID string) ([]StockMovement, error)
}
