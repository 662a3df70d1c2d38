package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/drfirst/go-rxcharge/internal/domain/prescription"
)

// MessageProducer sends a keyed record to a topic.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic, key string, value []byte) error
}

// ErrUnroutableEvent is returned for event types without a topic.
var ErrUnroutableEvent = errors.New("no topic for event type")

// TopicFor returns the topic an event type is published on.
func TopicFor(t prescription.EventType) (string, error) {
	switch t {
	case prescription.EventPrescriptionDispensed:
		return TopicBillingCharges, nil
	case prescription.EventStockMovementRecorded:
		return TopicInventoryMovements, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnroutableEvent, t)
	}
}

// EventKey is the partition key of an event. Events of one pharmacy share
// a partition.
func EventKey(e *prescription.Event) string {
	if e.PharmacyID != "" {
		return e.PharmacyID
	}
	return e.AggregateID
}

// EventPublisher publishes domain events straight to Redpanda.
type EventPublisher struct {
	producer MessageProducer
}

// NewEventPublisher creates a publisher on p.
func NewEventPublisher(p MessageProducer) *EventPublisher {
	return &EventPublisher{producer: p}
}

// Publish routes e by type and produces it as JSON.
func (p *EventPublisher) Publish(ctx context.Context, e *prescription.Event) error {
	topic, err := TopicFor(e.EventType)
	if err != nil {
		return err
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.producer.ProduceMessage(ctx, topic, EventKey(e), value)
}

// DispenseRequest asks the worker to dispense a stored prescription.
type DispenseRequest struct {
	RequestID      string `json:"request_id,omitempty"`
	PrescriptionID string `json:"prescription_id"`
	PharmacyID     string `json:"pharmacy_id"`
}

// ErrInvalidRequest is returned for malformed dispense requests.
var ErrInvalidRequest = errors.New("invalid dispense request")

// DecodeDispenseRequest parses a dispense.requests message.
func DecodeDispenseRequest(msg *ConsumedMessage) (*DispenseRequest, error) {
	var req DispenseRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.PrescriptionID = strings.TrimSpace(req.PrescriptionID)
	req.PharmacyID = strings.TrimSpace(req.PharmacyID)
	if req.PrescriptionID == "" || req.PharmacyID == "" {
		return nil, fmt.Errorf("%w: prescription_id and pharmacy_id are required", ErrInvalidRequest)
	}
	return &req, nil
}

// DeadLetter wraps a message that could not be processed.
type DeadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	Key           string          `json:"key,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
}

// SendToDeadLetter publishes msg to the dead letter topic with cause.
func SendToDeadLetter(ctx context.Context, p MessageProducer, msg *ConsumedMessage, cause error) error {
	payload := json.RawMessage(msg.Value)
	if !json.Valid(msg.Value) {
		quoted, _ := json.Marshal(string(msg.Value))
		payload = quoted
	}
	value, err := json.Marshal(DeadLetter{
		OriginalTopic: msg.Topic,
		Key:           string(msg.Key),
		Payload:       payload,
		Error:         cause.Error(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return p.ProduceMessage(ctx, TopicDeadLetter, string(msg.Key), value)
}
