package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope written to every saga topic. Version is the schema
// version of Data; AggregateID doubles as the partition key.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// AggregateOrder is the aggregate type of every event that belongs to one
// order's saga.
const AggregateOrder = "order"

// NewEvent creates an envelope with a fresh id, the current time and schema
// version 1.
func NewEvent(eventType, aggregateID, aggregateType, source string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", eventType, err)
	}

	return &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Data:          raw,
	}, nil
}

// WithCorrelationID sets the correlation ID on the event.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// OrderID returns the saga's order id, or "" when the event belongs to some
// other aggregate.
func (e *Event) OrderID() string {
	if e.AggregateType != AggregateOrder {
		return ""
	}
	return e.AggregateID
}

// Validate checks the envelope fields the consumer relies on. Payload
// validation is left to the decoder of Data.
func (e *Event) Validate() error {
	var errs []error
	if e.EventID == "" {
		errs = append(errs, errors.New("missing event_id"))
	}
	if e.EventType == "" {
		errs = append(errs, errors.New("missing event_type"))
	}
	if e.AggregateID == "" {
		errs = append(errs, errors.New("missing aggregate_id"))
	}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		errs = append(errs, errors.New("missing data"))
	}
	return errors.Join(errs...)
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes and validates an envelope. Either failure means the
// message can never be handled.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &event, nil
}

// UnmarshalData deserializes the event data payload into the given target.
func (e *Event) UnmarshalData(target any) error {
	return json.Unmarshal(e.Data, target)
}
