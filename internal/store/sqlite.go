package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nidhogg/nyx/internal/memory"
)

// Fixed-width UTC layout so timestamps compare correctly as TEXT.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

var sqliteDialect = dialect{
	ph:      func(int) string { return "?" },
	timeArg: func(t time.Time) any { return formatSQLiteTime(t) },
}

func formatSQLiteTime(t time.Time) string { return t.UTC().Format(sqliteTime) }

// SQLiteBackend is a single-file memory.Backend.
type SQLiteBackend struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLite opens or creates the database at dbPath.
func NewSQLite(dbPath string, logger *zap.Logger) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)
	return &SQLiteBackend{db: db, path: dbPath, logger: logger}, nil
}

func (s *SQLiteBackend) Name() string { return "sqlite" }

// Ping verifies the file is usable and applies migrations.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, "sqlite", func(ctx context.Context, q string) error {
		_, err := s.db.ExecContext(ctx, q)
		return err
	}, s.logger); err != nil {
		return err
	}
	s.logger.Info("SQLite opened", zap.String("path", s.path))
	return nil
}

func (s *SQLiteBackend) Close(_ context.Context) error {
	return s.db.Close()
}

func (s *SQLiteBackend) Upsert(ctx context.Context, rec memory.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (memory_type, key, value, created_at, updated_at, importance, source, is_expired)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (memory_type, key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, is_expired = 0`,
		string(rec.Type), rec.Key, rec.Value,
		formatSQLiteTime(rec.CreatedAt), formatSQLiteTime(rec.UpdatedAt),
		rec.Importance, rec.Source,
	)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Get(ctx context.Context, typ memory.Type, key string) (*memory.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE memory_type = ? AND key = ?`, string(typ), key)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return rec, nil
}

func (s *SQLiteBackend) Search(ctx context.Context, f memory.Filter) ([]memory.Record, error) {
	q, args := buildSearch(f, sqliteDialect)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) Update(ctx context.Context, rec memory.Record) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET value = ?, importance = ?, is_expired = ?, updated_at = ?
		WHERE memory_type = ? AND key = ?`,
		rec.Value, rec.Importance, rec.IsExpired, formatSQLiteTime(rec.UpdatedAt),
		string(rec.Type), rec.Key,
	)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*memory.Record, error) {
	var (
		rec              memory.Record
		typ              string
		created, updated string
	)
	if err := row.Scan(&typ, &rec.Key, &rec.Value, &created, &updated,
		&rec.Importance, &rec.Source, &rec.IsExpired); err != nil {
		return nil, err
	}
	rec.Type = memory.Type(typ)
	var err error
	if rec.CreatedAt, err = time.Parse(sqliteTime, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(sqliteTime, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}
