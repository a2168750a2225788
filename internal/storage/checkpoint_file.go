package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"transferScope/internal/model"
)

// FileCheckpointStore persists the checkpoint as a JSON document, replaced
// atomically through a rename on every write.
type FileCheckpointStore struct {
	path string
	mu   sync.Mutex
}

var _ CheckpointStore = (*FileCheckpointStore)(nil)

func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

func (c *FileCheckpointStore) Read(_ context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, ok, err := c.load()
	if err != nil || !ok {
		return 0, ok, err
	}
	return cp.LastIndexedBlock, true, nil
}

func (c *FileCheckpointStore) Write(_ context.Context, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok, err := c.load()
	if err != nil {
		return err
	}
	if ok && current.LastIndexedBlock >= block {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create checkpoint dir: %v", ErrStoreUnavailable, err)
		}
	}

	cp := model.Checkpoint{
		LastIndexedBlock: block,
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: write checkpoint tmp: %v", ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("%w: rename checkpoint: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (c *FileCheckpointStore) load() (model.Checkpoint, bool, error) {
	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, fmt.Errorf("%w: stat checkpoint: %v", ErrStoreUnavailable, err)
	}
	if stat.IsDir() {
		return model.Checkpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("%w: read checkpoint: %v", ErrStoreUnavailable, err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, true, nil
}
