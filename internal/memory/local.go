package memory

import (
	"context"
	"sync"
)

// LocalBackend keeps records in process memory. It is the fallback the
// Store downgrades to when the durable backend fails.
type LocalBackend struct {
	records []Record
	index   map[string]int
	mu      sync.RWMutex
}

// NewLocalBackend creates an empty in-process backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{index: make(map[string]int)}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Ping(_ context.Context) error { return nil }

func (b *LocalBackend) Close(_ context.Context) error { return nil }

func indexKey(typ Type, key string) string {
	return string(typ) + "\x00" + key
}

// Upsert inserts or updates a record in place.
func (b *LocalBackend) Upsert(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := indexKey(rec.Type, rec.Key)
	if i, ok := b.index[k]; ok {
		b.records[i].Value = rec.Value
		b.records[i].UpdatedAt = rec.UpdatedAt
		b.records[i].IsExpired = false
		return nil
	}
	b.index[k] = len(b.records)
	b.records = append(b.records, rec)
	return nil
}

// Get returns a copy of the record for (typ, key).
func (b *LocalBackend) Get(_ context.Context, typ Type, key string) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i, ok := b.index[indexKey(typ, key)]
	if !ok {
		return nil, ErrNotFound
	}
	rec := b.records[i]
	return &rec, nil
}

// Search returns matching records in insertion order unless f.OrderBy is set.
func (b *LocalBackend) Search(_ context.Context, f Filter) ([]Record, error) {
	b.mu.RLock()
	out := make([]Record, 0, len(b.records))
	for _, r := range b.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	b.mu.RUnlock()
	return sortAndLimit(out, f), nil
}

// Update overwrites the mutable fields of an existing record.
func (b *LocalBackend) Update(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[indexKey(rec.Type, rec.Key)]
	if !ok {
		return ErrNotFound
	}
	b.records[i].Value = rec.Value
	b.records[i].Importance = rec.Importance
	b.records[i].IsExpired = rec.IsExpired
	b.records[i].UpdatedAt = rec.UpdatedAt
	return nil
}

// Len reports the number of stored records.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}
