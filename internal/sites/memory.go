package sites

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sites in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	sites map[string]Site
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites: make(map[string]Site),
		now:   time.Now,
	}
}

func (m *MemoryStore) Put(ctx context.Context, s Site) (Site, error) {
	if err := s.Validate(); err != nil {
		return Site{}, err
	}
	s.UpdatedAt = m.now().UTC()

	m.mu.Lock()
	m.sites[s.Name] = s
	m.mu.Unlock()
	return s, nil
}

func (m *MemoryStore) Get(ctx context.Context, name string) (Site, error) {
	m.mu.RLock()
	s, ok := m.sites[name]
	m.mu.RUnlock()
	if !ok {
		return Site{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Site, error) {
	m.mu.RLock()
	out := make([]Site, 0, len(m.sites))
	for _, s := range m.sites {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sites[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.sites, name)
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
