package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parlourhq/parlour/core"
)

// FileStore keeps one JSON file per session; the locator is the file path.
// Writes go through a temp file plus rename so a crashed write never leaves
// a truncated record behind.
type FileStore struct {
	mu sync.Mutex
}

// NewFileStore constructs a FileStore.
func NewFileStore() *FileStore { return &FileStore{} }

// Create implements Store.
func (f *FileStore) Create(ctx context.Context, locator string, s *core.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(locator); err == nil {
		return fmt.Errorf("%w: %s", ErrSessionExists, locator)
	}
	return f.writeLocked(locator, s)
}

// Read implements Store.
func (f *FileStore) Read(ctx context.Context, locator string) (*core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(locator)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, locator)
		}
		return nil, fmt.Errorf("read session %s: %w", locator, err)
	}
	var s core.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", locator, err)
	}
	return &s, nil
}

// Write implements Store.
func (f *FileStore) Write(ctx context.Context, locator string, s *core.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(locator, s)
}

// Delete implements Store.
func (f *FileStore) Delete(ctx context.Context, locator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(locator); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, locator)
		}
		return fmt.Errorf("delete session %s: %w", locator, err)
	}
	return nil
}

func (f *FileStore) writeLocked(locator string, s *core.Session) error {
	if err := os.MkdirAll(filepath.Dir(locator), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	tmp := locator + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", locator, err)
	}
	if err := os.Rename(tmp, locator); err != nil {
		return fmt.Errorf("commit session %s: %w", locator, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
