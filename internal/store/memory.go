package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Backend. Apply holds the write lock for the whole
// batch, so readers see either none or all of it.
type Memory struct {
	mu   sync.RWMutex
	data map[Kind]map[string]Record
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[Kind]map[string]Record)}
}

func (m *Memory) Get(_ context.Context, kind Kind, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.Value...), nil
}

func (m *Memory) List(_ context.Context, kind Kind) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(kind, func(Record) bool { return true }), nil
}

func (m *Memory) ListByParent(_ context.Context, kind Kind, parent string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(kind, func(r Record) bool { return r.Parent == parent }), nil
}

// collect must be called with the lock held.
func (m *Memory) collect(kind Kind, keep func(Record) bool) []Record {
	out := make([]Record, 0, len(m.data[kind]))
	for _, rec := range m.data[kind] {
		if keep(rec) {
			rec.Value = append([]byte(nil), rec.Value...)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Apply(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		bucket := m.data[w.Kind]
		switch w.Op {
		case WritePut:
			if bucket == nil {
				bucket = make(map[string]Record)
				m.data[w.Kind] = bucket
			}
			bucket[w.ID] = Record{ID: w.ID, Parent: w.Parent, Value: append([]byte(nil), w.Value...)}
		case WriteDelete:
			delete(bucket, w.ID)
		case WriteDeleteChildren:
			for id, rec := range bucket {
				if rec.Parent == w.Parent {
					delete(bucket, id)
				}
			}
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
