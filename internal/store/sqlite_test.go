package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/conversation"
	"github.com/nidhogg/nyx/internal/memory"
)

func openSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLite(filepath.Join(t.TempDir(), "nyx.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("ping sqlite: %v", err)
	}
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

func TestSQLiteUpsertAndGet(t *testing.T) {
	b := openSQLite(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)

	rec := memory.Record{
		Type: memory.TypePreference, Key: "preference_love", Value: "jazz",
		CreatedAt: t0, UpdatedAt: t0, Importance: 7, Source: "conversation",
	}
	if err := b.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec.Value = "blues"
	rec.UpdatedAt = t0.Add(time.Minute)
	rec.Importance = 1
	if err := b.Upsert(ctx, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := b.Get(ctx, memory.TypePreference, "preference_love")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != "blues" || got.Importance != 7 {
		t.Errorf("got %+v, want value blues importance 7", got)
	}
	if !got.CreatedAt.Equal(t0) || !got.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
	}

	all, _ := b.Search(ctx, memory.Filter{})
	if len(all) != 1 {
		t.Errorf("search returned %d records, want 1", len(all))
	}
}

func TestSQLiteGetMissing(t *testing.T) {
	b := openSQLite(t)
	_, err := b.Get(context.Background(), memory.TypeFactual, "nope")
	if !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	err = b.Update(context.Background(), memory.Record{Type: memory.TypeFactual, Key: "nope"})
	if !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("update missing: got %v, want ErrNotFound", err)
	}
}

func TestSQLiteSearchFilters(t *testing.T) {
	b := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	put := func(typ memory.Type, key string, imp int, at time.Time, expired bool) {
		t.Helper()
		r := memory.Record{Type: typ, Key: key, Value: key, CreatedAt: at, UpdatedAt: at, Importance: imp, Source: "test"}
		if err := b.Upsert(ctx, r); err != nil {
			t.Fatalf("upsert %s: %v", key, err)
		}
		if expired {
			r.IsExpired = true
			if err := b.Update(ctx, r); err != nil {
				t.Fatalf("expire %s: %v", key, err)
			}
		}
	}
	put(memory.TypeEmotional, "mood_01A", 6, base, false)
	put(memory.TypeEmotional, "mood_01B", 6, base.Add(time.Hour), false)
	put(memory.TypeEmotional, "emotion_sad", 5, base.Add(2*time.Hour), true)
	put(memory.TypeFactual, "factual_x", 9, base.Add(3*time.Hour), false)

	moods, err := b.Search(ctx, memory.Filter{Type: memory.TypeEmotional, KeyContains: "MOOD", ActiveOnly: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(moods) != 2 {
		t.Errorf("mood search = %d records, want 2", len(moods))
	}

	recent, _ := b.Search(ctx, memory.Filter{UpdatedAfter: base.Add(30 * time.Minute), OrderBy: memory.OrderUpdatedAt})
	if len(recent) != 3 || recent[0].Key != "factual_x" {
		t.Errorf("recent = %+v", recent)
	}

	important, _ := b.Search(ctx, memory.Filter{MinImportance: 6, ActiveOnly: true, OrderBy: memory.OrderImportance, Limit: 2})
	if len(important) != 2 || important[0].Key != "factual_x" || important[1].Key != "mood_01B" {
		t.Errorf("important = %+v", important)
	}

	old, _ := b.Search(ctx, memory.Filter{UpdatedBefore: base.Add(time.Hour)})
	if len(old) != 1 || old[0].Key != "mood_01A" {
		t.Errorf("before filter = %+v", old)
	}

	expired, _ := b.Get(ctx, memory.TypeEmotional, "emotion_sad")
	if !expired.IsExpired {
		t.Error("emotion_sad should be expired")
	}
}

func TestSQLiteBehindStore(t *testing.T) {
	b := openSQLite(t)
	s := memory.Open(context.Background(), b, zap.NewNop())
	if s.Degraded() {
		t.Fatal("sqlite store should not be degraded")
	}
	if s.BackendName() != "sqlite" {
		t.Errorf("backend = %q", s.BackendName())
	}
	ctx := context.Background()
	if err := s.Save(ctx, memory.TypeFactual, "k", "v"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Expire(ctx, memory.TypeFactual, "k"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	rec, err := s.Get(ctx, memory.TypeFactual, "k")
	if err != nil || !rec.IsExpired {
		t.Fatalf("get = %+v, %v", rec, err)
	}
}

func TestSQLiteTranscript(t *testing.T) {
	b := openSQLite(t)
	ctx := context.Background()
	for _, c := range []string{"one", "two", "three"} {
		if err := b.AppendMessage(ctx, "s1", conversation.Message{Role: conversation.RoleUser, Content: c}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	b.AppendMessage(ctx, "s2", conversation.Message{Role: conversation.RoleUser, Content: "other"})

	msgs, err := b.Messages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Errorf("messages = %+v, want [two three]", msgs)
	}

	if err := b.ClearMessages(ctx, "s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msgs, _ = b.Messages(ctx, "s1", 10)
	if len(msgs) != 0 {
		t.Errorf("after clear: %+v", msgs)
	}
	msgs, _ = b.Messages(ctx, "s2", 10)
	if len(msgs) != 1 {
		t.Errorf("other session affected: %+v", msgs)
	}
}

func TestBuildSearchPostgresPlaceholders(t *testing.T) {
	q, args := buildSearch(memory.Filter{
		Type:          memory.TypeFactual,
		MinImportance: 3,
		ActiveOnly:    true,
		Limit:         5,
	}, postgresDialect)
	want := selectColumns + " WHERE memory_type = $1 AND importance >= $2 AND is_expired = FALSE ORDER BY created_at ASC LIMIT $3"
	if q != want {
		t.Errorf("query:\n got %s\nwant %s", q, want)
	}
	if len(args) != 3 {
		t.Errorf("args = %v", args)
	}
}
