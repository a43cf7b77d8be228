package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFSSinkPut(t *testing.T) {
	dir := t.TempDir()
	sink := NewFSSink(dir)

	url, err := sink.Put(context.Background(), "exports/receipts/abc.json", []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	path := filepath.Join(dir, "exports", "receipts", "abc.json")
	if url != "file://"+path {
		t.Fatalf("url = %s", url)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("content = %s", data)
	}

	// Re-putting the same key replaces the object atomically.
	if _, err := sink.Put(context.Background(), "exports/receipts/abc.json", []byte("v2")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "v2" {
		t.Fatalf("content after overwrite = %s", data)
	}

	// No temp files linger after the rename.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".archive-") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestNewBackendSelection(t *testing.T) {
	ctx := context.Background()

	sink, err := New(ctx, Config{Backend: BackendNone})
	if err != nil || sink != nil {
		t.Fatalf("none backend = %v, %v", sink, err)
	}
	if _, err := New(ctx, Config{Backend: BackendFS}); err == nil {
		t.Fatal("fs backend without a directory must fail")
	}
	sink, err = New(ctx, Config{Backend: BackendFS, Dir: t.TempDir()})
	if err != nil || sink == nil {
		t.Fatalf("fs backend = %v, %v", sink, err)
	}
	if _, err := New(ctx, Config{Backend: "tape"}); err == nil {
		t.Fatal("unknown backend must fail")
	}
}
