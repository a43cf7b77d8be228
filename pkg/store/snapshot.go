package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore keeps the tree in memory and snapshots it to a single JSON
// file. Snapshots are written to a temp file in the same directory and
// renamed into place, so a crash mid-write never leaves a torn file.
type JSONStore struct {
	mu    sync.RWMutex
	path  string
	state *State
	log   *slog.Logger
}

// NewJSONStore creates a store backed by the given snapshot path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{
		path:  path,
		state: NewState(),
		log:   slog.Default().With("component", "store", "backend", BackendJSON),
	}
}

func (s *JSONStore) Backend() string { return BackendJSON }

// Load reads the snapshot file. A missing file yields a fresh tree.
func (s *JSONStore) Load(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.state = NewState()
			s.log.Info("no snapshot found, starting fresh", "path", s.path)
			return nil
		}
		return fmt.Errorf("store: read snapshot: %w", err)
	}

	loaded := &State{}
	if err := json.Unmarshal(raw, loaded); err != nil {
		return fmt.Errorf("store: decode snapshot %s: %w", s.path, err)
	}
	if err := checkSchemaVersion(loaded.SchemaVersion); err != nil {
		return err
	}
	loaded.ensureMaps()
	s.state = loaded
	s.log.Info("snapshot loaded", "path", s.path, "events", len(loaded.Events), "receipts", len(loaded.Receipts))
	return nil
}

// Save snapshots the current tree atomically.
func (s *JSONStore) Save(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeSnapshot(s.state)
}

func (s *JSONStore) writeSnapshot(state *State) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("store: temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: install snapshot: %w", err)
	}
	return nil
}

// View runs fn with shared read access to the live tree.
func (s *JSONStore) View(fn func(*State) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// Update applies fn to a clone, persists it, then installs it.
func (s *JSONStore) Update(_ context.Context, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone, err := s.state.Clone()
	if err != nil {
		return err
	}
	if err := fn(clone); err != nil {
		return err
	}
	if err := s.writeSnapshot(clone); err != nil {
		return err
	}
	s.state = clone
	return nil
}

func (s *JSONStore) Close() error { return nil }

// Path returns the snapshot location.
func (s *JSONStore) Path() string { return s.path }
