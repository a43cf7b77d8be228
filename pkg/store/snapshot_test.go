package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopworks/rotor/pkg/contracts"
)

func TestJSONStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s := NewJSONStore(path)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load on missing file failed: %v", err)
	}

	err := s.Update(ctx, func(st *State) error {
		st.Intents["int-1"] = &contracts.SwapIntent{
			ID:        "int-1",
			Actor:     contracts.ActorRef{Type: contracts.ActorUser, ID: "u1"},
			Status:    contracts.IntentActive,
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		st.AppendEvent(&contracts.EventEnvelope{EventID: "evt-1", Type: contracts.EventIntentPublished})
		st.SetChainHead(JournalEvents, "head-1", 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A second store over the same file sees the committed tree.
	reloaded := NewJSONStore(path)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	err = reloaded.View(func(st *State) error {
		if st.SchemaVersion != CurrentSchemaVersion {
			t.Errorf("schema version %q", st.SchemaVersion)
		}
		if _, ok := st.Intents["int-1"]; !ok {
			t.Error("intent lost across reload")
		}
		if !st.HasEvent("evt-1") {
			t.Error("event dedup index lost across reload")
		}
		if st.ChainHeadFor(JournalEvents).Head != "head-1" {
			t.Error("chain head lost across reload")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestJSONStore_UpdateRollsBackOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s := NewJSONStore(path)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := s.Update(ctx, func(st *State) error {
		st.Intents["int-1"] = &contracts.SwapIntent{ID: "int-1"}
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	boom := errors.New("boom")
	err := s.Update(ctx, func(st *State) error {
		st.Intents["int-2"] = &contracts.SwapIntent{ID: "int-2"}
		st.AppendEvent(&contracts.EventEnvelope{EventID: "evt-x"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error: got %v", err)
	}

	_ = s.View(func(st *State) error {
		if _, ok := st.Intents["int-2"]; ok {
			t.Error("failed update leaked an intent")
		}
		if st.HasEvent("evt-x") {
			t.Error("failed update leaked an event")
		}
		return nil
	})

	// The snapshot on disk matches the last successful update.
	reloaded := NewJSONStore(path)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	_ = reloaded.View(func(st *State) error {
		if len(st.Intents) != 1 {
			t.Errorf("disk intents: got %d, want 1", len(st.Intents))
		}
		return nil
	})
}

func TestJSONStore_RejectsUnsupportedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"schema_version":"2.4.0"}`), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := NewJSONStore(path)
	err := s.Load(context.Background())
	if !errors.Is(err, ErrUnsupportedSchema) {
		t.Errorf("Load error: got %v, want ErrUnsupportedSchema", err)
	}

	// Missing version is rejected too.
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := s.Load(context.Background()); !errors.Is(err, ErrUnsupportedSchema) {
		t.Errorf("Load error: got %v, want ErrUnsupportedSchema", err)
	}
}

func TestJSONStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	ctx := context.Background()

	s := NewJSONStore(path)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Update(ctx, func(st *State) error {
			st.SetChainHead(JournalReceipts, "h", i+1)
			return nil
		}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "state.json" {
			t.Errorf("stray file after updates: %s", e.Name())
		}
	}
}
