package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink stores rendered evidence bundles for external compliance tooling.
type Sink interface {
	// Store persists data under key and returns the location written.
	Store(ctx context.Context, key string, data []byte) (string, error)
}

// FSSink writes bundles to a local directory.
type FSSink struct {
	dir string
}

// NewFSSink creates the directory if needed.
func NewFSSink(dir string) (*FSSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: failed to create sink dir: %w", err)
	}
	return &FSSink{dir: dir}, nil
}

func (s *FSSink) Store(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(s.dir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("audit: failed to create bundle dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("audit: failed to write bundle: %w", err)
	}
	return path, nil
}
