package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jBackend stores records as (:Memory) nodes merged on memory_type+key.
type Neo4jBackend struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jBackend creates a Neo4j-backed memory backend. The connection is
// not verified until Ping.
func NewNeo4jBackend(uri, user, password string, logger *zap.Logger) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4jBackend{driver: driver, logger: logger}, nil
}

func (b *Neo4jBackend) Name() string { return "neo4j" }

// Ping verifies connectivity and ensures the lookup index exists.
func (b *Neo4jBackend) Ping(ctx context.Context) error {
	if err := b.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE INDEX memory_type_key IF NOT EXISTS
		 FOR (m:Memory) ON (m.memory_type, m.key)`, nil)
	if err != nil {
		return fmt.Errorf("create memory index: %w", err)
	}
	return nil
}

func (b *Neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

func (b *Neo4jBackend) Upsert(ctx context.Context, rec Record) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (m:Memory {memory_type: $type, key: $key})
		 ON CREATE SET m.value = $value, m.created_at = $createdAt,
		   m.updated_at = $updatedAt, m.importance = $importance,
		   m.source = $source, m.is_expired = false
		 ON MATCH SET m.value = $value, m.updated_at = $updatedAt,
		   m.is_expired = false`,
		map[string]interface{}{
			"type":       string(rec.Type),
			"key":        rec.Key,
			"value":      rec.Value,
			"createdAt":  rec.CreatedAt.UTC(),
			"updatedAt":  rec.UpdatedAt.UTC(),
			"importance": int64(rec.Importance),
			"source":     rec.Source,
		})
	return err
}

func (b *Neo4jBackend) Get(ctx context.Context, typ Type, key string) (*Record, error) {
	records, err := b.Search(ctx, Filter{Type: typ, Key: key, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

func (b *Neo4jBackend) Search(ctx context.Context, f Filter) ([]Record, error) {
	var where []string
	params := map[string]interface{}{}
	if f.Type != "" {
		where = append(where, "m.memory_type = $type")
		params["type"] = string(f.Type)
	}
	if f.Key != "" {
		where = append(where, "m.key = $key")
		params["key"] = f.Key
	}
	if f.KeyContains != "" {
		where = append(where, "toLower(m.key) CONTAINS toLower($keyContains)")
		params["keyContains"] = f.KeyContains
	}
	if !f.UpdatedAfter.IsZero() {
		where = append(where, "m.updated_at >= $after")
		params["after"] = f.UpdatedAfter.UTC()
	}
	if !f.UpdatedBefore.IsZero() {
		where = append(where, "m.updated_at < $before")
		params["before"] = f.UpdatedBefore.UTC()
	}
	if f.MinImportance > 0 {
		where = append(where, "m.importance >= $minImportance")
		params["minImportance"] = int64(f.MinImportance)
	}
	if f.ActiveOnly {
		where = append(where, "m.is_expired = false")
	}

	var q strings.Builder
	q.WriteString("MATCH (m:Memory)")
	if len(where) > 0 {
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(where, " AND "))
	}
	q.WriteString(` RETURN m.memory_type AS memory_type, m.key AS key, m.value AS value,
		m.created_at AS created_at, m.updated_at AS updated_at,
		m.importance AS importance, m.source AS source, m.is_expired AS is_expired`)
	switch f.OrderBy {
	case OrderUpdatedAt:
		q.WriteString(" ORDER BY m.updated_at DESC")
	case OrderImportance:
		q.WriteString(" ORDER BY m.importance DESC, m.updated_at DESC")
	}
	if f.Limit > 0 {
		q.WriteString(" LIMIT $limit")
		params["limit"] = int64(f.Limit)
	}

	session := b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, q.String(), params)
	if err != nil {
		return nil, err
	}

	var out []Record
	for result.Next(ctx) {
		out = append(out, recordFromNeo4j(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Neo4jBackend) Update(ctx context.Context, rec Record) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {memory_type: $type, key: $key})
		 SET m.value = $value, m.importance = $importance,
		     m.is_expired = $expired, m.updated_at = $updatedAt
		 RETURN count(m) AS updated`,
		map[string]interface{}{
			"type":       string(rec.Type),
			"key":        rec.Key,
			"value":      rec.Value,
			"importance": int64(rec.Importance),
			"expired":    rec.IsExpired,
			"updatedAt":  rec.UpdatedAt.UTC(),
		})
	if err != nil {
		return err
	}
	var updated int64
	if result.Next(ctx) {
		if v, ok := result.Record().Get("updated"); ok {
			updated, _ = v.(int64)
		}
	}
	if err := result.Err(); err != nil {
		return err
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}

func recordFromNeo4j(r *neo4j.Record) Record {
	var rec Record
	if v, ok := r.Get("memory_type"); ok {
		s, _ := v.(string)
		rec.Type = Type(s)
	}
	if v, ok := r.Get("key"); ok {
		rec.Key, _ = v.(string)
	}
	if v, ok := r.Get("value"); ok {
		rec.Value, _ = v.(string)
	}
	if v, ok := r.Get("created_at"); ok {
		rec.CreatedAt, _ = v.(time.Time)
	}
	if v, ok := r.Get("updated_at"); ok {
		rec.UpdatedAt, _ = v.(time.Time)
	}
	if v, ok := r.Get("importance"); ok {
		n, _ := v.(int64)
		rec.Importance = int(n)
	}
	if v, ok := r.Get("source"); ok {
		rec.Source, _ = v.(string)
	}
	if v, ok := r.Get("is_expired"); ok {
		rec.IsExpired, _ = v.(bool)
	}
	return rec
}
