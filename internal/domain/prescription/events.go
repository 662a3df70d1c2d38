package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventPrescriptionDispensed EventType = "PrescriptionDispensed"
	EventStockMovementRecorded EventType = "StockMovementRecorded"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	PharmacyID    string          `json:"pharmacy_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID, aggregateType string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// PrescriptionDispensedData is emitted once a prescription has been charged and
// its stock movements recorded.
type PrescriptionDispensedData struct {
	PrescriptionID string    `json:"prescription_id"`
	PharmacyID     string    `json:"pharmacy_id"`
	DoctorID       string    `json:"doctor_id"`
	TotalCharge    string    `json:"total_charge"`
	DrugCost       string    `json:"drug_cost"`
	MovementIDs    []string  `json:"movement_ids"`
	PartialLines   []string  `json:"partial_lines,omitempty"`
	DispensedAt    time.Time `json:"dispensed_at"`
}

// StockMovementRecordedData mirrors a ledger movement.
type StockMovementRecordedData struct {
	MovementID string    `json:"movement_id"`
	PharmacyID string    `json:"pharmacy_id"`
	ItemID     string    `json:"item_id"`
	BatchID    string    `json:"batch_id,omitempty"`
	Type       string    `json:"type"`
	Quantity   float64   `json:"quantity"`
	Delta      float64   `json:"delta"`
	Reference  string    `json:"reference,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// WithCorrelation sets routing fields
func (e *Event) WithCorrelation(pharmacyID, correlationID string) *Event {
	e.PharmacyID = pharmacyID
	e.CorrelationID = correlationID
	return e
}
