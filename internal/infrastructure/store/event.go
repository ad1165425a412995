package store

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is the storage and wire envelope of one domain event.
// Version is the aggregate version after the event was applied.
type Event struct {
	ID            string              `json:"id"`
	AggregateID   string              `json:"aggregate_id"`
	AggregateType string              `json:"aggregate_type"`
	EventType     string              `json:"event_type"`
	Version       int                 `json:"version"`
	Data          jsoniter.RawMessage `json:"data"`
	Metadata      jsoniter.RawMessage `json:"metadata,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// MarshalBatch encodes the events of one save as a single JSON array.
func MarshalBatch(events []Event) ([]byte, error) {
	data, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("%w: encode batch: %w", ErrSerialization, err)
	}
	return data, nil
}

// UnmarshalBatch decodes a whole batch before any element is handed out.
func UnmarshalBatch(data []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("%w: decode batch: %w", ErrSerialization, err)
	}
	return events, nil
}
