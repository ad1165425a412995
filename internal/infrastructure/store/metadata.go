package store

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

// Metadata is stamped on every event and snapshot written by a save.
type Metadata struct {
	RequestID string `json:"request_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type metadataKey struct{}

func WithMetadata(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

func MetadataFrom(ctx context.Context) (Metadata, bool) {
	md, ok := ctx.Value(metadataKey{}).(Metadata)
	return md, ok
}

func encodeMetadata(ctx context.Context) (jsoniter.RawMessage, error) {
	md, ok := MetadataFrom(ctx)
	if !ok || md == (Metadata{}) {
		return nil, nil
	}
	return json.Marshal(md)
}
