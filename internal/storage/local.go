package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type LocalArchive struct {
	baseDir string
	baseURL string
}

func NewLocalArchive(baseDir, baseURL string) (*LocalArchive, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &LocalArchive{
		baseDir: baseDir,
		baseURL: baseURL,
	}, nil
}

func (a *LocalArchive) Save(ctx context.Context, name string, data []byte) (*SaveResult, error) {
	key := generateKey(name, data)
	path := filepath.Join(a.baseDir, key)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory structure: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	slog.Info("snapshot archived locally", "key", key, "size", len(data))

	return &SaveResult{
		Key: key,
		URL: fmt.Sprintf("%s/%s", a.baseURL, key),
	}, nil
}

func (a *LocalArchive) Delete(ctx context.Context, key string) error {
	path := filepath.Join(a.baseDir, key)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// generateKey builds a date-partitioned key with an extension derived from
// the snapshot content itself, since fallback pages arrive without one.
func generateKey(name string, data []byte) string {
	ext := mimetype.Detect(data).Extension()
	if ext == "" {
		ext = ".bin"
	}

	timestamp := time.Now().Format("2006/01/02")
	uniqueID := uuid.New().String()[:8]

	return fmt.Sprintf("snapshots/%s/%s_%s%s", timestamp, name, uniqueID, ext)
}
