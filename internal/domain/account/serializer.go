package account

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decoders is the closed tag table of BankAccount events.
var decoders = map[string]func(data []byte) (any, error){
	EventBankAccountCreated: decodeAs[BankAccountCreated],
	EventBalanceDeposited:   decodeAs[BalanceDeposited],
	EventEmailChanged:       decodeAs[EmailChanged],
}

func decodeAs[T any](data []byte) (any, error) {
	var event T
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return event, nil
}

// EventTypes lists every registered tag.
func EventTypes() []string {
	return []string{EventBankAccountCreated, EventBalanceDeposited, EventEmailChanged}
}

// Serializer converts BankAccount events to store envelopes and back.
type Serializer struct{}

func NewSerializer() *Serializer {
	return &Serializer{}
}

func (s *Serializer) Serialize(event any, agg aggregate.Aggregate) (store.Event, error) {
	eventType, err := eventTypeOf(event)
	if err != nil {
		return store.Event{}, err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return store.Event{}, fmt.Errorf("%w: encode %s: %w", store.ErrSerialization, eventType, err)
	}

	return store.Event{
		ID:            uuid.NewString(),
		AggregateID:   agg.GetID(),
		AggregateType: agg.GetType(),
		EventType:     eventType,
		Version:       agg.GetVersion(),
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (s *Serializer) Deserialize(event store.Event) (any, error) {
	decode, ok := decoders[event.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q, aggregate: %s", store.ErrUnknownEventType, event.EventType, event.AggregateID)
	}
	domainEvent, err := decode(event.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s version %d: %w", store.ErrSerialization, event.EventType, event.Version, err)
	}
	return domainEvent, nil
}

func eventTypeOf(event any) (string, error) {
	switch event.(type) {
	case BankAccountCreated:
		return EventBankAccountCreated, nil
	case BalanceDeposited:
		return EventBalanceDeposited, nil
	case EmailChanged:
		return EventEmailChanged, nil
	default:
		return "", fmt.Errorf("%w: %T", store.ErrUnknownEventType, event)
	}
}
