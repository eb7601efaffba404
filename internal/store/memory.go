package store

import (
	"context"
	"sync"
)

// MemoryStore implements Store with an in-memory map. Used for testing and
// ephemeral sessions; positions do not survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]Position
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]Position)}
}

func (s *MemoryStore) List(_ context.Context) ([]Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to avoid external mutation.
	cp := p
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, p *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Key()] = *p
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, key)
	return nil
}

var _ Store = (*MemoryStore)(nil)
