package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/parlourhq/parlour/core"
)

// MemoryStore is a volatile Store keeping sessions in a process-local map.
// Best suited for tests and ephemeral demo servers. Sessions are cloned on
// both write and read so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*core.Session)}
}

// Create implements Store.
func (m *MemoryStore) Create(ctx context.Context, locator string, s *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[locator]; exists {
		return fmt.Errorf("%w: %s", ErrSessionExists, locator)
	}
	m.sessions[locator] = s.Clone()
	return nil
}

// Read implements Store.
func (m *MemoryStore) Read(ctx context.Context, locator string) (*core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[locator]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, locator)
	}
	return s.Clone(), nil
}

// Write implements Store.
func (m *MemoryStore) Write(ctx context.Context, locator string, s *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[locator] = s.Clone()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[locator]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, locator)
	}
	delete(m.sessions, locator)
	return nil
}

var _ Store = (*MemoryStore)(nil)
