package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_Fields(t *testing.T) {
	type reserve struct {
		OrderID  string `json:"order_id"`
		Quantity int    `json:"quantity"`
	}

	data := reserve{OrderID: "ord-123", Quantity: 2}
	ev, err := NewEvent("inventory.reservation_requested", "ord-123", AggregateOrder, "order-service", data)
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "inventory.reservation_requested", ev.EventType)
	assert.Equal(t, "ord-123", ev.AggregateID)
	assert.Equal(t, 1, ev.Version)
	assert.WithinDuration(t, time.Now().UTC(), ev.Timestamp, 2*time.Second)

	var back reserve
	require.NoError(t, ev.UnmarshalData(&back))
	assert.Equal(t, data, back)
}

func TestNewEvent_UnencodableData(t *testing.T) {
	_, err := NewEvent("order.created", "ord-1", AggregateOrder, "order-service", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order.created")
}

func TestEvent_RoundTrip(t *testing.T) {
	ev, err := NewEvent("payment.completed", "ord-7", AggregateOrder, "payment-service", map[string]string{"payment_id": "p-1"})
	require.NoError(t, err)
	ev.WithCorrelationID("corr-abc")

	raw, err := ev.Marshal()
	require.NoError(t, err)

	back, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, back.EventID)
	assert.Equal(t, "corr-abc", back.CorrelationID)
	assert.Equal(t, "payment-service", back.Source)
	assert.JSONEq(t, string(ev.Data), string(back.Data))
	assert.WithinDuration(t, ev.Timestamp, back.Timestamp, time.Millisecond)
}

func TestEvent_WithCorrelationIDChains(t *testing.T) {
	ev := &Event{}
	assert.Same(t, ev, ev.WithCorrelationID("corr-xyz"))
	assert.Equal(t, "corr-xyz", ev.CorrelationID)
}

func TestEvent_OrderID(t *testing.T) {
	assert.Equal(t, "ord-1", (&Event{AggregateType: AggregateOrder, AggregateID: "ord-1"}).OrderID())
	assert.Empty(t, (&Event{AggregateType: "reservation", AggregateID: "res-1"}).OrderID())
}

func TestUnmarshalEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", `not json`, "decode envelope"},
		{"empty", ``, "decode envelope"},
		{"no type", `{"event_id":"e1","aggregate_id":"o1","data":{}}`, "missing event_type"},
		{"no id", `{"event_type":"order.created","aggregate_id":"o1","data":{}}`, "missing event_id"},
		{"no key", `{"event_id":"e1","event_type":"order.created","data":{}}`, "missing aggregate_id"},
		{"null data", `{"event_id":"e1","event_type":"order.created","aggregate_id":"o1","data":null}`, "missing data"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := UnmarshalEvent([]byte(tc.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestEvent_UnmarshalDataInvalid(t *testing.T) {
	ev := &Event{Data: json.RawMessage(`not valid json`)}
	var target map[string]any
	assert.Error(t, ev.UnmarshalData(&target))
}
