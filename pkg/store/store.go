package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Backend names accepted by Open.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var (
	ErrUnsupportedSchema  = errors.New("store: unsupported schema version")
	ErrUnsupportedBackend = errors.New("store: unsupported backend")
)

// Store is the persistence surface shared by both backends. Update runs
// the mutation against a clone of the tree and installs it only after a
// successful persist, so a failed step leaves no partial writes behind.
type Store interface {
	// Load hydrates state from the backing medium. A missing file or
	// empty database yields a fresh tree.
	Load(ctx context.Context) error
	// Save persists the current tree.
	Save(ctx context.Context) error
	// View runs fn with read access. The state must not be retained or
	// mutated past the call.
	View(fn func(*State) error) error
	// Update clones the tree, applies fn, persists, then installs the
	// clone. fn errors and persist errors both roll the step back.
	Update(ctx context.Context, fn func(*State) error) error
	// Backend names the active backend.
	Backend() string
	Close() error
}

// Open selects a backend. target is the snapshot path for json, the
// database file for sqlite, or the DSN for postgres.
func Open(ctx context.Context, backend, target string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		s := NewJSONStore(target)
		if err := s.Load(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite, BackendPostgres:
		driver := "sqlite"
		if backend == BackendPostgres {
			driver = "postgres"
		}
		db, err := sql.Open(driver, target)
		if err != nil {
			return nil, fmt.Errorf("store: open %s: %w", backend, err)
		}
		s, err := NewSQLStore(db, driver)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := s.Load(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
}

// checkSchemaVersion gates loaded snapshots to the supported range.
func checkSchemaVersion(version string) error {
	if version == "" {
		return fmt.Errorf("%w: missing schema_version", ErrUnsupportedSchema)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedSchema, version, err)
	}
	constraint, err := semver.NewConstraint(SupportedSchemaRange)
	if err != nil {
		return fmt.Errorf("store: bad schema constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s outside %s", ErrUnsupportedSchema, version, SupportedSchemaRange)
	}
	return nil
}
