package store

import (
	"errors"

	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
)

var (
	ErrAggregateNotFound = errors.New("aggregate not found")
	ErrSerialization     = errors.New("serialization failed")
	ErrConcurrency       = errors.New("concurrency conflict")
	ErrPublish           = errors.New("publish failed")

	ErrUnknownEventType     = aggregate.ErrUnknownEventType
	ErrUnknownAggregateType = aggregate.ErrUnknownAggregateType
)

// IsRetryable reports whether a failed save may succeed after reloading the aggregate.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}
