package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps sources in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	sources map[string]Source
}

func NewMemoryStore(initial ...Source) *MemoryStore {
	s := &MemoryStore{sources: make(map[string]Source)}
	for _, src := range initial {
		s.sources[src.Name] = src
	}
	return s
}

func (s *MemoryStore) List(context.Context) ([]Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, src Source) error {
	if err := ValidateName(src.Name); err != nil {
		return err
	}
	s.mu.Lock()
	s.sources[src.Name] = src
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[name]; !ok {
		return ErrNotFound
	}
	delete(s.sources, name)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
