// Package memory provides state stores that live inside the process or in the
// application's preferences file.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
	"github.com/tejashwikalptaru/tunebridge/internal/ports"
)

// Store implements ports.StateStore with a map. Nothing survives the process,
// so it is only useful for tests and throwaway sessions.
//
// Thread-safe: All operations protected by sync.RWMutex.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	writes int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(v), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = slices.Clone(value)
	s.writes++
	return nil
}

// Writes returns how many Set calls reached the store.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) Close() error {
	return nil
}

var _ ports.StateStore = (*Store)(nil)
