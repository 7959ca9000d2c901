package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalArchive writes reports below BasePath; intended for local development.
type LocalArchive struct {
	BasePath string
}

func NewLocalArchive(basePath string) *LocalArchive {
	if basePath == "" {
		panic("local archive requires basePath")
	}
	return &LocalArchive{BasePath: basePath}
}

func (a *LocalArchive) Put(_ context.Context, key string, body []byte) error {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" || strings.Contains(key, "..") {
		return fmt.Errorf("invalid key %q", key)
	}

	full := filepath.Join(a.BasePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report file: %w", err)
	}
	return f.Close()
}

func (a *LocalArchive) Check(_ context.Context) error {
	// Ensure directory exists; this is idempotent for local dev.
	if err := os.MkdirAll(a.BasePath, 0o755); err != nil {
		return fmt.Errorf("create archive path: %w", err)
	}
	return nil
}

var _ Archive = (*LocalArchive)(nil)
