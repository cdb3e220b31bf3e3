package storage

import (
	"context"

	appconfig "github.com/dkoval/showtracks/internal/config"
)

func NewArchive(ctx context.Context, cfg appconfig.Config) (Archive, error) {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		return NewS3Archive(ctx, cfg)
	case "off", "none":
		return NoopArchive{}, nil
	default:
		return NewLocalArchive(cfg.LocalStorageDir, cfg.LocalStorageURL)
	}
}

// NoopArchive discards snapshots. Used when archiving is disabled.
type NoopArchive struct{}

func (NoopArchive) Save(ctx context.Context, name string, data []byte) (*SaveResult, error) {
	return &SaveResult{}, nil
}

func (NoopArchive) Delete(ctx context.Context, key string) error {
	return nil
}
