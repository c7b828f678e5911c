// Package rag keeps a vector index of memory records for semantic recall.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/embedding"
	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/vectorstore"
)

// DefaultCollection holds the memory vectors.
const DefaultCollection = "nyx_memories"

// VectorStore is the subset of the Qdrant client the index needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]*vectorstore.SearchResult, error)
	Delete(ctx context.Context, collection, id string) error
}

var pointNamespace = uuid.MustParse("6f1c7c0e-4c1a-4b8e-9a39-0e5b7c2d9f11")

// PointID maps a (type, key) pair to a stable point id, so re-saving a
// memory overwrites its vector instead of adding another.
func PointID(typ memory.Type, key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(string(typ)+"/"+key)).String()
}

// Hit is one semantic match.
type Hit struct {
	Record memory.Record `json:"memory"`
	Score  float32       `json:"score"`
}

// MemoryIndex embeds saved memories into a vector collection and answers
// similarity queries against it. The memory store stays the source of
// truth: hits are re-read from it and expired records are dropped.
type MemoryIndex struct {
	embedder   embedding.Provider
	vectors    VectorStore
	store      *memory.Store
	collection string
	logger     *zap.Logger
}

// NewMemoryIndex creates a memory index.
func NewMemoryIndex(embedder embedding.Provider, vectors VectorStore, store *memory.Store, collection string, logger *zap.Logger) *MemoryIndex {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MemoryIndex{
		embedder:   embedder,
		vectors:    vectors,
		store:      store,
		collection: collection,
		logger:     logger,
	}
}

// Init ensures the collection exists.
func (ix *MemoryIndex) Init(ctx context.Context) error {
	dim := uint64(ix.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	if err := ix.vectors.EnsureCollection(ctx, ix.collection, dim); err != nil {
		return fmt.Errorf("init collection %s: %w", ix.collection, err)
	}
	return nil
}

func (ix *MemoryIndex) embedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

// Index implements memory.Indexer. Expired records are removed from the
// collection.
func (ix *MemoryIndex) Index(ctx context.Context, rec memory.Record) error {
	if rec.IsExpired {
		return ix.vectors.Delete(ctx, ix.collection, PointID(rec.Type, rec.Key))
	}
	vec, err := ix.embedOne(ctx, rec.Key+" "+rec.Value)
	if err != nil {
		return err
	}
	return ix.vectors.Upsert(ctx, ix.collection, PointID(rec.Type, rec.Key), vec, map[string]string{
		"type":       string(rec.Type),
		"key":        rec.Key,
		"value":      rec.Value,
		"indexed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Search returns up to limit live memories most similar to query, best
// first.
func (ix *MemoryIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = memory.DefaultScoreLimit
	}
	vec, err := ix.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	// Over-fetch: some hits may have expired since they were indexed.
	results, err := ix.vectors.Search(ctx, ix.collection, vec, uint64(limit*2))
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, limit)
	for _, r := range results {
		rec, err := ix.store.Get(ctx, memory.Type(r.Payload["type"]), r.Payload["key"])
		if errors.Is(err, memory.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.IsExpired {
			continue
		}
		hits = append(hits, Hit{Record: *rec, Score: r.Score})
		if len(hits) == limit {
			break
		}
	}
	ix.logger.Debug("semantic search", zap.String("query", query), zap.Int("hits", len(hits)))
	return hits, nil
}
