package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/util"
)

// StateFileName is the per-artifact state file written by FileStore.
const StateFileName = "decompose_state.json"

// FileStore keeps one JSON file per artifact under a root directory.
type FileStore struct {
	root string
	mu   sync.RWMutex
	now  func() time.Time
}

// NewFileStore creates a FileStore rooted at root (typically
// <workspace>/.speki/specs). The directory is created lazily on first write.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, now: time.Now}
}

// Path returns the state file for an artifact.
func (fs *FileStore) Path(artifactID string) string {
	return filepath.Join(fs.root, artifactID, StateFileName)
}

// Get implements Store.
func (fs *FileStore) Get(ctx context.Context, artifactID string) (State, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.Path(artifactID))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("failed to read state for %s: %w", artifactID, err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("%w: %s: %v", errors.ErrStateCorrupted, artifactID, err)
	}
	if s.Status == "" {
		s.Status = StatusIdle
	}
	return s, nil
}

// Set implements Store.
func (fs *FileStore) Set(ctx context.Context, artifactID string, s State) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return util.WriteJSON(fs.Path(artifactID), stamp(s, fs.now()))
}

// List implements Store. IDs are returned in directory order.
func (fs *FileStore) List(ctx context.Context) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(fs.root, e.Name(), StateFileName)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
