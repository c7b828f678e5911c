package rag

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/vectorstore"
)

// wordEmbedder maps text onto a tiny fixed vocabulary.
type wordEmbedder struct{ fail bool }

var vocab = []string{"jazz", "dog", "tea", "rain"}

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("embedder offline")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(vocab))
		for j, w := range vocab {
			if strings.Contains(strings.ToLower(t), w) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e *wordEmbedder) Dimension() int { return len(vocab) }

type point struct {
	vec     []float32
	payload map[string]string
}

type memVectors struct {
	dims   map[string]uint64
	points map[string]point
}

func newMemVectors() *memVectors {
	return &memVectors{dims: map[string]uint64{}, points: map[string]point{}}
}

func (m *memVectors) EnsureCollection(_ context.Context, name string, dim uint64) error {
	m.dims[name] = dim
	return nil
}

func (m *memVectors) Upsert(_ context.Context, _ string, id string, vec []float32, payload map[string]string) error {
	m.points[id] = point{vec: vec, payload: payload}
	return nil
}

func (m *memVectors) Delete(_ context.Context, _ string, id string) error {
	delete(m.points, id)
	return nil
}

func (m *memVectors) Search(_ context.Context, _ string, vec []float32, topK uint64) ([]*vectorstore.SearchResult, error) {
	var out []*vectorstore.SearchResult
	for id, p := range m.points {
		var dot float32
		for i := range vec {
			dot += vec[i] * p.vec[i]
		}
		if dot > 0 {
			out = append(out, &vectorstore.SearchResult{ID: id, Score: dot, Payload: p.payload})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if uint64(len(out)) > topK {
		out = out[:topK]
	}
	return out, nil
}

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil, zap.NewNop())
	vectors := newMemVectors()
	ix := NewMemoryIndex(&wordEmbedder{}, vectors, store, "", zap.NewNop())
	store.SetIndexer(ix)

	if err := ix.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if vectors.dims[DefaultCollection] != 4 {
		t.Errorf("collection dims = %v", vectors.dims)
	}

	store.Save(ctx, memory.TypePreference, "music", "loves jazz")
	store.Save(ctx, memory.TypeFactual, "pet", "has a dog")
	store.Save(ctx, memory.TypeFactual, "pet", "has a dog and drinks tea")
	store.Save(ctx, memory.TypePreference, "weather", "likes rain and jazz")
	if len(vectors.points) != 3 {
		t.Fatalf("indexed %d points, want 3 (re-save overwrites)", len(vectors.points))
	}

	hits, err := ix.Search(ctx, "some jazz", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %+v", hits)
	}

	store.Expire(ctx, memory.TypePreference, "music")
	if _, ok := vectors.points[PointID(memory.TypePreference, "music")]; ok {
		t.Error("expired memory should leave the collection")
	}
	hits, _ = ix.Search(ctx, "jazz", 5)
	if len(hits) != 1 || hits[0].Record.Key != "weather" {
		t.Errorf("expired memory should be dropped: %+v", hits)
	}
}

func TestPointIDStable(t *testing.T) {
	if PointID(memory.TypeFactual, "a") != PointID(memory.TypeFactual, "a") {
		t.Error("point id should be deterministic")
	}
	if PointID(memory.TypeFactual, "a") == PointID(memory.TypePreference, "a") {
		t.Error("type must be part of the point id")
	}
}

func TestSearcherFallsBackToKeywords(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil, zap.NewNop())
	store.Save(ctx, memory.TypePreference, "music", "loves jazz", memory.WithImportance(9))
	store.Save(ctx, memory.TypeFactual, "pet", "has a dog")
	scorer := memory.NewScorer(store, zap.NewNop())

	keyword := NewSearcher(nil, scorer, zap.NewNop())
	if keyword.Mode() != "keyword" {
		t.Errorf("mode = %s", keyword.Mode())
	}
	hits, err := keyword.Search(ctx, "jazz please", 5)
	if err != nil || len(hits) != 1 || hits[0].Record.Key != "music" {
		t.Fatalf("keyword hits = %+v, %v", hits, err)
	}

	broken := NewMemoryIndex(&wordEmbedder{fail: true}, newMemVectors(), store, "", zap.NewNop())
	s := NewSearcher(broken, scorer, zap.NewNop())
	if s.Mode() != "vector" {
		t.Errorf("mode = %s", s.Mode())
	}
	hits, err = s.Search(ctx, "dog", 5)
	if err != nil || len(hits) != 1 || hits[0].Record.Key != "pet" {
		t.Errorf("fallback hits = %+v, %v", hits, err)
	}
}
