package storage

import "context"

// Archive persists raw upstream page snapshots captured when the event
// source adapter falls back to the rendering strategy. Snapshots are a
// debugging aid; failures to archive are never fatal to a build.
type Archive interface {
	Save(ctx context.Context, name string, data []byte) (*SaveResult, error)
	Delete(ctx context.Context, key string) error
}

type SaveResult struct {
	Key string
	URL string
}
