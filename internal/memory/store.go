package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageError reports a failure of the durable backend.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("memory %s on %s: %v", e.Op, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Indexer receives every successfully saved or expired record, e.g. to keep
// a vector index in sync. Index errors are logged and never fail a write.
type Indexer interface {
	Index(ctx context.Context, rec Record) error
}

// Store is the memory facade used by the rest of the system. It writes to a
// durable Backend and, the first time that backend fails, downgrades to an
// in-process LocalBackend for the rest of its lifetime and retries the
// failing call there once. The downgrade is never reverted.
//
// Writes that read a record before rewriting it (Save's re-read, Expire and
// each step of Prune) run under one store-wide lock, so a background prune
// never overwrites a concurrent re-observation with a stale copy.
type Store struct {
	mu       sync.Mutex
	primary  Backend
	fallback *LocalBackend
	degraded atomic.Bool
	indexer  Indexer
	now      func() time.Time
	logger   *zap.Logger
}

// NewStore creates a store over primary. A nil primary means local only.
func NewStore(primary Backend, logger *zap.Logger) *Store {
	s := &Store{
		primary:  primary,
		fallback: NewLocalBackend(),
		now:      time.Now,
		logger:   logger,
	}
	if primary == nil {
		s.degraded.Store(true)
	}
	return s
}

// Open runs the startup capability check against primary and returns a store
// that already serves from the local fallback if the check fails.
func Open(ctx context.Context, primary Backend, logger *zap.Logger) *Store {
	s := NewStore(primary, logger)
	if primary == nil {
		logger.Info("memory store using local backend")
		return s
	}
	if err := primary.Ping(ctx); err != nil {
		s.downgrade(&StorageError{Backend: primary.Name(), Op: "ping", Err: err})
		return s
	}
	logger.Info("memory store ready", zap.String("backend", primary.Name()))
	return s
}

// SetIndexer installs a post-save hook.
func (s *Store) SetIndexer(ix Indexer) { s.indexer = ix }

// Degraded reports whether the store has fallen back to local storage.
func (s *Store) Degraded() bool { return s.degraded.Load() }

// BackendName returns the name of the backend currently serving requests.
func (s *Store) BackendName() string { return s.active().Name() }

// Close closes the durable backend, if any.
func (s *Store) Close(ctx context.Context) error {
	if s.primary == nil {
		return nil
	}
	return s.primary.Close(ctx)
}

func (s *Store) active() Backend {
	if s.degraded.Load() {
		return s.fallback
	}
	return s.primary
}

func (s *Store) downgrade(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn("durable memory backend failed, switching to local storage", zap.Error(err))
	}
}

// do runs fn against the active backend. A durable failure downgrades the
// store and retries fn once against the fallback. Cancellation and deadline
// errors belong to the caller and are returned as is.
func (s *Store) do(op string, fn func(Backend) error) error {
	if s.degraded.Load() {
		return fn(s.fallback)
	}
	err := fn(s.primary)
	if err == nil || errors.Is(err, ErrNotFound) || isContextErr(err) {
		return err
	}
	s.downgrade(&StorageError{Backend: s.primary.Name(), Op: op, Err: err})
	return fn(s.fallback)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// SaveOption customizes a Save call.
type SaveOption func(*Record)

// WithImportance sets the importance of a newly created record.
func WithImportance(n int) SaveOption {
	return func(r *Record) { r.Importance = clampImportance(n) }
}

// WithSource sets the source of a newly created record.
func WithSource(src string) SaveOption {
	return func(r *Record) { r.Source = src }
}

// Save upserts value under (typ, key). New records default to importance 5
// and source "conversation"; existing records only get value and updated_at
// overwritten.
func (s *Store) Save(ctx context.Context, typ Type, key, value string, opts ...SaveOption) error {
	if typ == "" || strings.TrimSpace(key) == "" {
		return fmt.Errorf("save memory: type and key are required")
	}
	now := s.now()
	rec := Record{
		Type:       typ,
		Key:        key,
		Value:      value,
		CreatedAt:  now,
		UpdatedAt:  now,
		Importance: DefaultImportance,
		Source:     DefaultSource,
	}
	for _, o := range opts {
		o(&rec)
	}

	s.mu.Lock()
	err := s.do("upsert", func(b Backend) error { return b.Upsert(ctx, rec) })
	var stored *Record
	if err == nil {
		stored, _ = s.Get(ctx, typ, key)
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save memory %s/%s: %w", typ, key, err)
	}
	s.logger.Debug("saved memory",
		zap.String("type", string(typ)),
		zap.String("key", key),
		zap.String("backend", s.BackendName()))

	// An upsert keeps importance, source and created_at of an existing
	// record, so the index gets what was actually stored.
	if stored != nil {
		rec = *stored
	}
	s.reindex(ctx, rec)
	return nil
}

func (s *Store) reindex(ctx context.Context, rec Record) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Index(ctx, rec); err != nil {
		s.logger.Warn("memory index update failed", zap.String("key", rec.Key), zap.Error(err))
	}
}

// Get returns the record for (typ, key) or ErrNotFound.
func (s *Store) Get(ctx context.Context, typ Type, key string) (*Record, error) {
	var rec *Record
	err := s.do("get", func(b Backend) error {
		r, err := b.Get(ctx, typ, key)
		rec = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every record of typ, or every record when typ is empty.
// Expired records are included: callers that need only live memories must
// check IsExpired themselves or use Search with ActiveOnly.
func (s *Store) List(ctx context.Context, typ Type) ([]Record, error) {
	return s.Search(ctx, Filter{Type: typ})
}

// Search returns records matching f.
func (s *Store) Search(ctx context.Context, f Filter) ([]Record, error) {
	var out []Record
	err := s.do("search", func(b Backend) error {
		r, err := b.Search(ctx, f)
		out = r
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return out, nil
}

// Expire soft-deletes a record.
func (s *Store) Expire(ctx context.Context, typ Type, key string) error {
	s.mu.Lock()
	rec, err := s.Get(ctx, typ, key)
	if err == nil {
		rec.IsExpired = true
		err = s.update(ctx, *rec)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.reindex(ctx, *rec)
	return nil
}

func (s *Store) update(ctx context.Context, rec Record) error {
	return s.do("update", func(b Backend) error { return b.Update(ctx, rec) })
}

// Recent returns live records updated within the last days, newest first.
func (s *Store) Recent(ctx context.Context, days, limit int) ([]Record, error) {
	return s.Search(ctx, Filter{
		UpdatedAfter: s.now().AddDate(0, 0, -days),
		ActiveOnly:   true,
		OrderBy:      OrderUpdatedAt,
		Limit:        limit,
	})
}

// Important returns live records with importance >= min, highest first.
func (s *Store) Important(ctx context.Context, min, limit int) ([]Record, error) {
	return s.Search(ctx, Filter{
		MinImportance: min,
		ActiveOnly:    true,
		OrderBy:       OrderImportance,
		Limit:         limit,
	})
}
