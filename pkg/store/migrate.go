package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrAlreadyMigrated guards against accidental re-runs; pass force to
// overwrite.
var ErrAlreadyMigrated = errors.New("store: target already migrated")

// MigrationResult summarizes a completed json-to-sqlite migration.
type MigrationResult struct {
	FromPath   string         `json:"from_state_file"`
	ToPath     string         `json:"to_state_file"`
	Counts     map[string]int `json:"counts"`
	Forced     bool           `json:"forced,omitempty"`
	MigratedAt time.Time      `json:"migrated_at"`
}

// MigrateJSONToSQLite reads a JSON snapshot, upserts every known
// top-level key into the sqlite schema, and writes a marker so repeat
// runs are refused unless forced. The migration is idempotent: rerunning
// with force produces the same rows.
func MigrateJSONToSQLite(ctx context.Context, fromPath, toPath string, force bool) (*MigrationResult, error) {
	if _, err := os.Stat(fromPath); err != nil {
		return nil, fmt.Errorf("store: source snapshot: %w", err)
	}
	src := NewJSONStore(fromPath)
	if err := src.Load(ctx); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", toPath)
	if err != nil {
		return nil, fmt.Errorf("store: open target: %w", err)
	}
	dst, err := NewSQLStore(db, "sqlite")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	defer func() { _ = dst.Close() }()

	if marker, ok, err := dst.Meta(ctx, "migrated_from"); err != nil {
		return nil, err
	} else if ok && !force {
		return nil, fmt.Errorf("%w: previously migrated from %s", ErrAlreadyMigrated, marker)
	}

	var snapshot *State
	if err := src.View(func(st *State) error {
		clone, err := st.Clone()
		if err != nil {
			return err
		}
		snapshot = clone
		return nil
	}); err != nil {
		return nil, err
	}

	if err := dst.ReplaceState(ctx, snapshot); err != nil {
		return nil, err
	}

	migratedAt := time.Now().UTC()
	if err := dst.SetMeta(ctx, "migrated_from", fromPath); err != nil {
		return nil, err
	}
	if err := dst.SetMeta(ctx, "migrated_at", migratedAt.Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}

	return &MigrationResult{
		FromPath:   fromPath,
		ToPath:     toPath,
		Counts:     snapshot.Counts(),
		Forced:     force,
		MigratedAt: migratedAt,
	}, nil
}
