package attestation

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/masumiguard/internal/pagination"
)

// MemoryStore is an in-memory attestation store for demo/development mode.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory attestation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (m *MemoryStore) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.SimulatedTxID]; ok {
		return nil
	}
	cp := *r
	m.records[r.SimulatedTxID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// List returns up to limit records, newest first. A non-positive limit
// returns everything.
func (m *MemoryStore) List(_ context.Context, limit int, after *pagination.Cursor) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if after != nil && !olderThan(r, after) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].SimulatedTxID > result[j].SimulatedTxID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// olderThan reports whether r sorts after c in newest-first order.
func olderThan(r *Record, c *pagination.Cursor) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return r.SimulatedTxID < c.ID
	}
	return r.CreatedAt.Before(c.CreatedAt)
}

var _ Store = (*MemoryStore)(nil)
