// Package archive mirrors signed exports to durable object storage.
//
// Sinks are best-effort: the export pipeline treats archive failures as
// log-worthy, never as export failures.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by New.
const (
	BackendNone = "none"
	BackendFS   = "fs"
	BackendS3   = "s3"
	BackendGCS  = "gcs"
)

// Sink stores one immutable object under a key and returns its location.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Config selects and parameterizes a sink.
type Config struct {
	Backend string
	Bucket  string // s3 / gcs bucket
	Dir     string // fs root directory
	Region  string // s3 only
	Prefix  string // optional key prefix
}

// New builds a sink from configuration. BackendNone yields a nil sink,
// which callers treat as "archiving disabled".
func New(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Backend {
	case BackendNone, "":
		return nil, nil
	case BackendFS:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("archive: fs backend requires a directory")
		}
		return &FSSink{root: cfg.Dir}, nil
	case BackendS3:
		return NewS3Sink(ctx, cfg)
	case BackendGCS:
		return newGCSSink(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported backend %q", cfg.Backend)
	}
}

// FSSink writes objects under a local directory, creating parents as
// needed. Writes are temp-file + rename so a crash never leaves a torn
// object behind.
type FSSink struct {
	root string
}

func NewFSSink(root string) *FSSink { return &FSSink{root: root} }

func (s *FSSink) Put(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("archive: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("archive: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("archive: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("archive: rename: %w", err)
	}
	return "file://" + path, nil
}
