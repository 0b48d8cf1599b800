// Package outbox implements the transactional outbox: events are written in
// the same transaction as the state change that caused them and relayed to
// Kafka afterwards.
package outbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
)

// Event is one outbox row. Payload is the complete marshaled envelope.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	RetryCount    int
	LastError     string
}

// IsPublished reports whether the relay has delivered the row.
func (e *Event) IsPublished() bool {
	return e.PublishedAt != nil
}

// New builds an outbox row for p. correlationID may be empty.
func New(p events.Payload, source, correlationID string) (*Event, error) {
	env, err := events.NewEnvelope(p, source)
	if err != nil {
		return nil, err
	}
	if correlationID != "" {
		env.WithCorrelationID(correlationID)
	}
	payload, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", p.EventType(), err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		EventType:     env.EventType,
		Topic:         p.Topic(),
		PartitionKey:  p.Key(),
		Payload:       payload,
		CreatedAt:     env.Timestamp,
	}, nil
}
