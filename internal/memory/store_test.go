package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// brokenBackend fails every call, like a durable table that was never created.
type brokenBackend struct {
	mu    sync.Mutex
	calls int
}

var errNoTable = errors.New("table memories does not exist")

func (b *brokenBackend) Name() string { return "broken" }
func (b *brokenBackend) Ping(context.Context) error { b.hit(); return errNoTable }
func (b *brokenBackend) Close(context.Context) error { return nil }
func (b *brokenBackend) Upsert(context.Context, Record) error { b.hit(); return errNoTable }
func (b *brokenBackend) Update(context.Context, Record) error { b.hit(); return errNoTable }
func (b *brokenBackend) Get(context.Context, Type, string) (*Record, error) {
	b.hit()
	return nil, errNoTable
}
func (b *brokenBackend) Search(context.Context, Filter) ([]Record, error) {
	b.hit()
	return nil, errNoTable
}

func (b *brokenBackend) hit() {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
}

func (b *brokenBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newTestStore() *Store {
	return NewStore(nil, zap.NewNop())
}

func TestSaveDefaults(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if err := s.Save(ctx, TypeFactual, "name", "User is called Sam"); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := s.Get(ctx, TypeFactual, "name")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Importance != DefaultImportance {
		t.Errorf("importance = %d, want %d", rec.Importance, DefaultImportance)
	}
	if rec.Source != DefaultSource {
		t.Errorf("source = %q, want %q", rec.Source, DefaultSource)
	}
	if rec.IsExpired {
		t.Error("new record should not be expired")
	}
	if !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("created_at %v != updated_at %v on insert", rec.CreatedAt, rec.UpdatedAt)
	}
}

func TestSaveUpsertIsIdempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if err := s.Save(ctx, TypePreference, "preference_love", "first", WithImportance(7)); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.now = func() time.Time { return base.Add(time.Hour) }
	if err := s.Save(ctx, TypePreference, "preference_love", "second", WithImportance(2)); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := s.List(ctx, TypePreference)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d records, want 1", len(all))
	}
	rec := all[0]
	if rec.Value != "second" {
		t.Errorf("value = %q, want latest", rec.Value)
	}
	if !rec.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("updated_at = %v, want %v", rec.UpdatedAt, base.Add(time.Hour))
	}
	if !rec.CreatedAt.Equal(base) {
		t.Errorf("created_at changed to %v", rec.CreatedAt)
	}
	if rec.Importance != 7 {
		t.Errorf("importance = %d, re-observation must not change it", rec.Importance)
	}
}

func TestSaveRevivesExpired(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Save(ctx, TypeEmotional, "emotion_sad", "a")
	if err := s.Expire(ctx, TypeEmotional, "emotion_sad"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	rec, _ := s.Get(ctx, TypeEmotional, "emotion_sad")
	if !rec.IsExpired {
		t.Fatal("expected record to be expired")
	}

	s.Save(ctx, TypeEmotional, "emotion_sad", "b")
	rec, _ = s.Get(ctx, TypeEmotional, "emotion_sad")
	if rec.IsExpired {
		t.Error("re-observed record should be live again")
	}
	if rec.Value != "b" {
		t.Errorf("value = %q, want b", rec.Value)
	}
}

func TestSaveRequiresKey(t *testing.T) {
	s := newTestStore()
	if err := s.Save(context.Background(), TypeFactual, "  ", "x"); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), TypeFactual, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListIncludesExpired(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	s.Save(ctx, TypeFactual, "a", "1")
	s.Save(ctx, TypeFactual, "b", "2")
	s.Expire(ctx, TypeFactual, "a")

	all, _ := s.List(ctx, "")
	if len(all) != 2 {
		t.Fatalf("unfiltered list returned %d records, want 2", len(all))
	}
	if live := Active(all); len(live) != 1 || live[0].Key != "b" {
		t.Errorf("Active() = %+v, want only b", live)
	}
}

func TestRecentAndImportant(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	now := time.Now()

	s.now = func() time.Time { return now.AddDate(0, 0, -10) }
	s.Save(ctx, TypeFactual, "old", "old fact", WithImportance(9))
	s.now = func() time.Time { return now.Add(-time.Hour) }
	s.Save(ctx, TypeFactual, "new", "new fact", WithImportance(3))
	s.now = func() time.Time { return now }
	s.Save(ctx, TypeFactual, "newest", "newest fact", WithImportance(6))

	recent, err := s.Recent(ctx, 7, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Key != "newest" || recent[1].Key != "new" {
		t.Errorf("recent = %v, want [newest new]", keys(recent))
	}

	important, err := s.Important(ctx, 5, 10)
	if err != nil {
		t.Fatalf("important: %v", err)
	}
	if len(important) != 2 || important[0].Key != "old" || important[1].Key != "newest" {
		t.Errorf("important = %v, want [old newest]", keys(important))
	}
}

func TestDowngradeRetriesOnce(t *testing.T) {
	primary := &brokenBackend{}
	s := NewStore(primary, zap.NewNop())
	ctx := context.Background()

	if s.Degraded() {
		t.Fatal("store should start on the durable backend")
	}
	if err := s.Save(ctx, TypeFactual, "k", "v"); err != nil {
		t.Fatalf("save should succeed via fallback, got %v", err)
	}
	if !s.Degraded() {
		t.Fatal("store should be degraded after a backend failure")
	}
	if s.BackendName() != "local" {
		t.Errorf("backend = %q, want local", s.BackendName())
	}
	if primary.count() != 1 {
		t.Errorf("durable backend called %d times, want 1", primary.count())
	}

	rec, err := s.Get(ctx, TypeFactual, "k")
	if err != nil || rec.Value != "v" {
		t.Fatalf("get after downgrade = %+v, %v", rec, err)
	}
	if primary.count() != 1 {
		t.Errorf("durable backend used after downgrade (%d calls)", primary.count())
	}
}

func TestOpenDowngradesOnFailedPing(t *testing.T) {
	primary := &brokenBackend{}
	s := Open(context.Background(), primary, zap.NewNop())
	if !s.Degraded() {
		t.Fatal("Open should downgrade when ping fails")
	}
	if err := s.Save(context.Background(), TypeFactual, "k", "v"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if primary.count() != 1 {
		t.Errorf("durable backend called %d times after startup downgrade, want only the ping", primary.count())
	}
}

func TestOpenHealthyBackend(t *testing.T) {
	primary := NewLocalBackend()
	s := Open(context.Background(), primary, zap.NewNop())
	if s.Degraded() {
		t.Fatal("healthy backend should not be downgraded")
	}
	s.Save(context.Background(), TypeFactual, "k", "v")
	if primary.Len() != 1 {
		t.Errorf("primary holds %d records, want 1", primary.Len())
	}
}

type recordingIndexer struct{ got []Record }

func (r *recordingIndexer) Index(_ context.Context, rec Record) error {
	r.got = append(r.got, rec)
	return errors.New("index offline")
}

func TestIndexerErrorsDoNotFailSave(t *testing.T) {
	s := newTestStore()
	ix := &recordingIndexer{}
	s.SetIndexer(ix)
	if err := s.Save(context.Background(), TypeFactual, "k", "v"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(ix.got) != 1 || ix.got[0].Key != "k" {
		t.Errorf("indexer got %+v", ix.got)
	}
}

func keys(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Key
	}
	return out
}

// ctxBackend behaves like a SQL driver: it serves from an in-process table
// but fails with the context error once the caller's context is done.
type ctxBackend struct{ *LocalBackend }

func (b ctxBackend) Name() string { return "ctx" }

func (b ctxBackend) Upsert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.LocalBackend.Upsert(ctx, rec)
}

func (b ctxBackend) Get(ctx context.Context, typ Type, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.LocalBackend.Get(ctx, typ, key)
}

func TestCanceledContextKeepsDurableBackend(t *testing.T) {
	s := NewStore(ctxBackend{NewLocalBackend()}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, TypeFactual, "k", "v")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("save err = %v, want context.Canceled", err)
	}
	if s.Degraded() || s.BackendName() != "ctx" {
		t.Errorf("store downgraded on a cancelled request: degraded=%v backend=%s", s.Degraded(), s.BackendName())
	}

	deadline, stop := context.WithTimeout(context.Background(), -time.Second)
	defer stop()
	if _, err := s.Get(deadline, TypeFactual, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("get err = %v, want context.DeadlineExceeded", err)
	}
	if s.Degraded() {
		t.Error("store downgraded on an expired deadline")
	}

	if err := s.Save(context.Background(), TypeFactual, "k", "v"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if s.Degraded() {
		t.Error("healthy save should stay on the durable backend")
	}
}

func TestIndexerGetsStoredRecord(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.Save(ctx, TypePreference, "tea", "likes green tea", WithImportance(9), WithSource("manual"))

	ix := &recordingIndexer{}
	s.SetIndexer(ix)
	s.now = func() time.Time { return base.Add(time.Hour) }
	s.Save(ctx, TypePreference, "tea", "likes oolong")

	if len(ix.got) != 1 {
		t.Fatalf("indexer got %+v", ix.got)
	}
	got := ix.got[0]
	if got.Value != "likes oolong" || got.Importance != 9 || got.Source != "manual" || !got.CreatedAt.Equal(base) {
		t.Errorf("indexed %+v, want the stored record", got)
	}
}
