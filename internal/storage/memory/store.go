package memory

import (
	"context"
	"sync"
)

// Store keeps markers in process memory. Used in tests and when durability
// across restarts is not wanted.
type Store struct {
	mu   sync.RWMutex
	data map[string][]string
}

func New() *Store {
	return &Store{data: make(map[string][]string)}
}

func (s *Store) Close() error { return nil }

func (s *Store) Load(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *Store) Save(ctx context.Context, key string, ids []string) error {
	cp := make([]string, len(ids))
	copy(cp, ids)
	s.mu.Lock()
	s.data[key] = cp
	s.mu.Unlock()
	return nil
}
