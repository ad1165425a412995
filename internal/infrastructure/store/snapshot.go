package store

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// DefaultSnapshotFrequency defines the number of events after which a snapshot is taken
const DefaultSnapshotFrequency = 3

// Snapshot represents a point-in-time state of an aggregate
type Snapshot struct {
	ID            string              `json:"id"`
	AggregateID   string              `json:"aggregate_id"`
	AggregateType string              `json:"aggregate_type"`
	Version       int                 `json:"version"` // Event version at snapshot time
	Data          jsoniter.RawMessage `json:"data"`    // Serialized aggregate state
	Metadata      jsoniter.RawMessage `json:"metadata,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}
