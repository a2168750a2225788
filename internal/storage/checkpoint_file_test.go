package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileCheckpointStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	store := NewFileCheckpointStore(path)

	if _, ok, err := store.Read(ctx); err != nil || ok {
		t.Fatalf("expected no checkpoint, got ok=%v err=%v", ok, err)
	}

	if err := store.Write(ctx, 480); err != nil {
		t.Fatalf("write: %v", err)
	}

	reopened := NewFileCheckpointStore(path)
	block, ok, err := reopened.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !ok || block != 480 {
		t.Fatalf("expected checkpoint 480, got %d (ok=%v)", block, ok)
	}
}

func TestFileCheckpointStoreIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewFileCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	for _, block := range []uint64{100, 250, 120, 250} {
		if err := store.Write(ctx, block); err != nil {
			t.Fatalf("write %d: %v", block, err)
		}
	}

	block, _, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if block != 250 {
		t.Fatalf("expected checkpoint 250, got %d", block)
	}
}

func TestFileCheckpointStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if _, _, err := NewFileCheckpointStore(path).Read(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
}
