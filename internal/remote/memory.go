package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Backend for development and tests.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string]Record
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]Record)}
}

func (m *Memory) Get(ctx context.Context, table, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tables[table][id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (m *Memory) Select(ctx context.Context, table string, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var recs []Record
	for _, rec := range m.tables[table] {
		if matches(rec, q.Filter) {
			recs = append(recs, clone(rec))
		}
	}
	if q.OrderBy != "" {
		sort.Slice(recs, func(i, j int) bool {
			a := fmt.Sprint(recs[i][q.OrderBy])
			b := fmt.Sprint(recs[j][q.OrderBy])
			if q.Desc {
				return a > b
			}
			return a < b
		})
	}
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return recs, nil
}

func (m *Memory) Insert(ctx context.Context, table string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]Record)
	}
	m.tables[table][ID(rec)] = clone(rec)
	return nil
}

func (m *Memory) Update(ctx context.Context, table, id string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table][id]; !ok {
		return ErrNotFound
	}
	m.tables[table][id] = clone(rec)
	return nil
}

func (m *Memory) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table][id]; !ok {
		return ErrNotFound
	}
	delete(m.tables[table], id)
	return nil
}

// Count returns the number of records in a table. Test helper.
func (m *Memory) Count(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table])
}

func matches(rec Record, filter map[string]any) bool {
	for field, want := range filter {
		if fmt.Sprint(rec[field]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func clone(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		if nested, ok := v.(map[string]any); ok {
			out[k] = clone(nested)
			continue
		}
		out[k] = v
	}
	return out
}
