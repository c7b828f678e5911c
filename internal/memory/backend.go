package memory

import (
	"context"
	"errors"
	"sort"
)

// ErrNotFound is returned when no record exists for a (type, key) pair.
var ErrNotFound = errors.New("memory not found")

// Backend is a key-value record store with upsert-by-(type,key) and
// filtered search. Durable engines and the in-process fallback both
// implement it.
type Backend interface {
	Name() string
	// Ping is the capability check run once at startup.
	Ping(ctx context.Context) error
	// Upsert inserts rec, or overwrites value and updated_at (and clears
	// is_expired) on the existing record with the same type and key.
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, typ Type, key string) (*Record, error)
	Search(ctx context.Context, f Filter) ([]Record, error)
	// Update replaces importance, is_expired and value of an existing record.
	Update(ctx context.Context, rec Record) error
	Close(ctx context.Context) error
}

// sortAndLimit orders records per f.OrderBy (descending) and applies f.Limit.
func sortAndLimit(records []Record, f Filter) []Record {
	switch f.OrderBy {
	case OrderUpdatedAt:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		})
	case OrderImportance:
		sort.SliceStable(records, func(i, j int) bool {
			if records[i].Importance != records[j].Importance {
				return records[i].Importance > records[j].Importance
			}
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		})
	}
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records
}
