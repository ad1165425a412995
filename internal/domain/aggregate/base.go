package aggregate

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrUnknownEventType     = errors.New("unknown event type")
	ErrUnknownAggregateType = errors.New("unknown aggregate type")
)

// Aggregate defines the interface for event-sourced aggregates.
// Implementations embed Root and fold their own event variants in WhenEvent.
type Aggregate interface {
	GetID() string
	GetType() string
	GetVersion() int
	Changes() []any
	ClearChanges()
	WhenEvent(event any) error
	root() *Root
}

// Root holds identity, version and the events raised since the last save.
type Root struct {
	ID      string `json:"aggregate_id"`
	Type    string `json:"aggregate_type"`
	Version int    `json:"version"`

	changes []any
}

func NewRoot(id, aggregateType string) Root {
	return Root{ID: id, Type: aggregateType}
}

func (r *Root) GetID() string   { return r.ID }
func (r *Root) GetType() string { return r.Type }
func (r *Root) GetVersion() int { return r.Version }

// Changes returns the uncommitted events in the order they were applied.
func (r *Root) Changes() []any {
	out := make([]any, len(r.changes))
	copy(out, r.changes)
	return out
}

func (r *Root) ClearChanges() { r.changes = nil }

func (r *Root) root() *Root { return r }

// Apply folds a newly raised event into the aggregate and buffers it for the next save.
// The event is only buffered if the fold succeeds.
func Apply(a Aggregate, event any) error {
	if err := a.WhenEvent(event); err != nil {
		return err
	}
	r := a.root()
	r.changes = append(r.changes, event)
	r.Version++
	return nil
}

// Raise folds a historical event without buffering it.
func Raise(a Aggregate, event any) error {
	if err := a.WhenEvent(event); err != nil {
		return err
	}
	a.root().Version++
	return nil
}

// Load replays historical events in order.
func Load(a Aggregate, events []any) error {
	for i, event := range events {
		if err := Raise(a, event); err != nil {
			return fmt.Errorf("replay event %d: %w", i, err)
		}
	}
	return nil
}

// Restore resets identity and version after the aggregate state was decoded from a snapshot.
func Restore(a Aggregate, id string, version int) {
	r := a.root()
	r.ID = id
	r.Version = version
	r.changes = nil
}

// Factory creates the zero-version instance of one aggregate type.
type Factory func(id string) Aggregate

// Factories maps aggregate type names to their factory.
type Factories map[string]Factory

// New returns a fresh aggregate of the given type.
func (f Factories) New(aggregateType, id string) (Aggregate, error) {
	factory, ok := f[aggregateType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregateType, aggregateType)
	}
	return factory(id), nil
}
