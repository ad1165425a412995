package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryEventLog is an in-process EventLog. Writers of one aggregate are
// serialized with a per-aggregate lock, and commit rejects any version that
// does not directly follow the stored ones.
type MemoryEventLog struct {
	mu        sync.RWMutex
	events    map[string][]Event // aggregateID -> events
	snapshots map[string]Snapshot

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		events:    make(map[string][]Event),
		snapshots: make(map[string]Snapshot),
		locks:     make(map[string]chan struct{}),
	}
}

func (l *MemoryEventLog) LoadSnapshot(_ context.Context, aggregateID string) (*Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot, ok := l.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (l *MemoryEventLog) LoadEvents(_ context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var events []Event
	for _, e := range l.events[aggregateID] {
		if e.Version > afterVersion {
			events = append(events, e)
		}
	}
	return events, nil
}

func (l *MemoryEventLog) InTx(ctx context.Context, fn func(tx EventLogTx) error) error {
	tx := &memoryTx{log: l, snapshots: make(map[string]Snapshot)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return l.commit(tx)
}

// Events returns every stored event of an aggregate.
func (l *MemoryEventLog) Events(aggregateID string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Event(nil), l.events[aggregateID]...)
}

// DeleteSnapshot drops the snapshot of an aggregate.
func (l *MemoryEventLog) DeleteSnapshot(aggregateID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.snapshots, aggregateID)
}

// DeleteEventsUpTo drops the events of an aggregate with version <= upTo.
func (l *MemoryEventLog) DeleteEventsUpTo(aggregateID string, upTo int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[aggregateID][:0]
	for _, e := range l.events[aggregateID] {
		if e.Version > upTo {
			kept = append(kept, e)
		}
	}
	l.events[aggregateID] = kept
}

func (l *MemoryEventLog) commit(tx *memoryTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[string]int)
	for _, e := range tx.events {
		expected, ok := next[e.AggregateID]
		if !ok {
			expected = l.latestVersion(e.AggregateID) + 1
		}
		if e.Version != expected {
			return fmt.Errorf("%w: %s version %d already exists", ErrConcurrency, e.AggregateID, e.Version)
		}
		next[e.AggregateID] = expected + 1
	}

	for _, e := range tx.events {
		l.events[e.AggregateID] = append(l.events[e.AggregateID], e)
	}
	for id, snapshot := range tx.snapshots {
		l.snapshots[id] = snapshot
	}
	return nil
}

// latestVersion is the max stored version; callers hold l.mu.
func (l *MemoryEventLog) latestVersion(aggregateID string) int {
	events := l.events[aggregateID]
	if len(events) == 0 {
		if snapshot, ok := l.snapshots[aggregateID]; ok {
			return snapshot.Version
		}
		return 0
	}
	return events[len(events)-1].Version
}

func (l *MemoryEventLog) lockFor(aggregateID string) chan struct{} {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	lock, ok := l.locks[aggregateID]
	if !ok {
		lock = make(chan struct{}, 1)
		l.locks[aggregateID] = lock
	}
	return lock
}

type memoryTx struct {
	log       *MemoryEventLog
	events    []Event
	snapshots map[string]Snapshot
	held      []chan struct{}
}

func (tx *memoryTx) LockAggregate(ctx context.Context, aggregateID string) (int, error) {
	lock := tx.log.lockFor(aggregateID)
	select {
	case lock <- struct{}{}:
		tx.held = append(tx.held, lock)
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: lock %s: %w", ErrConcurrency, aggregateID, ctx.Err())
	}

	tx.log.mu.RLock()
	defer tx.log.mu.RUnlock()
	return tx.log.latestVersion(aggregateID), nil
}

func (tx *memoryTx) AppendEvents(_ context.Context, events []Event) error {
	tx.events = append(tx.events, events...)
	return nil
}

func (tx *memoryTx) SaveSnapshot(_ context.Context, snapshot Snapshot) error {
	tx.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

func (tx *memoryTx) release() {
	for _, lock := range tx.held {
		<-lock
	}
	tx.held = nil
}
