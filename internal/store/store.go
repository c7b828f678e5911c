// Package store provides SQL-backed durable memory backends and the
// conversation transcript archive.
package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/memory"
)

//go:embed migrations
var migrations embed.FS

// migrate runs every *.up.sql file under migrations/<dialect> in name order.
// Statements use IF NOT EXISTS so re-running on startup is safe.
func migrate(ctx context.Context, dialect string, exec func(ctx context.Context, sql string) error, logger *zap.Logger) error {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := fs.ReadFile(migrations, path.Join(dir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if err := exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		logger.Debug("migration applied", zap.String("dialect", dialect), zap.String("file", f))
	}
	return nil
}

const selectColumns = `SELECT memory_type, key, value, created_at, updated_at, importance, source, is_expired FROM memories`

// dialect captures the differences between the SQL engines.
type dialect struct {
	// ph renders the n-th (1-based) placeholder.
	ph func(n int) string
	// timeArg converts a timestamp into a bindable value.
	timeArg func(t time.Time) any
}

// buildSearch translates a memory.Filter into a WHERE/ORDER/LIMIT query.
func buildSearch(f memory.Filter, d dialect) (string, []any) {
	ph := d.ph
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, ph(len(args))))
	}

	if f.Type != "" {
		add("memory_type = %s", string(f.Type))
	}
	if f.Key != "" {
		add("key = %s", f.Key)
	}
	if f.KeyContains != "" {
		add("LOWER(key) LIKE %s", "%"+strings.ToLower(f.KeyContains)+"%")
	}
	if !f.UpdatedAfter.IsZero() {
		add("updated_at >= %s", d.timeArg(f.UpdatedAfter))
	}
	if !f.UpdatedBefore.IsZero() {
		add("updated_at < %s", d.timeArg(f.UpdatedBefore))
	}
	if f.MinImportance > 0 {
		add("importance >= %s", f.MinImportance)
	}
	if f.ActiveOnly {
		where = append(where, "is_expired = FALSE")
	}

	var q strings.Builder
	q.WriteString(selectColumns)
	if len(where) > 0 {
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(where, " AND "))
	}
	switch f.OrderBy {
	case memory.OrderUpdatedAt:
		q.WriteString(" ORDER BY updated_at DESC")
	case memory.OrderImportance:
		q.WriteString(" ORDER BY importance DESC, updated_at DESC")
	default:
		q.WriteString(" ORDER BY created_at ASC")
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q.WriteString(" LIMIT " + ph(len(args)))
	}
	return q.String(), args
}
