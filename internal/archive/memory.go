package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// memory is the development default when neither DATABASE_URL nor
// REDIS_URL is configured.
type memory struct {
	mu        sync.RWMutex
	byID      map[string]*Record
	bySession map[string][]*Record
}

func NewMemory() Repository {
	return &memory{
		byID:      make(map[string]*Record),
		bySession: make(map[string][]*Record),
	}
}

func (m *memory) Insert(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record requires an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[rec.ID]; exists {
		return nil
	}
	cp := *rec
	m.byID[rec.ID] = &cp
	m.bySession[rec.SessionID] = append(m.bySession[rec.SessionID], &cp)
	return nil
}

func (m *memory) Recent(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.bySession[sessionID]
	if len(list) == 0 {
		return []*Record{}, nil
	}
	items := append([]*Record(nil), list...)
	sort.Slice(items, func(i, j int) bool {
		return items[i].EndedAt.After(items[j].EndedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]*Record, len(items))
	for i, r := range items {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func (m *memory) Close() error { return nil }
