package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/memory"
)

var postgresDialect = dialect{
	ph:      func(n int) string { return "$" + strconv.Itoa(n) },
	timeArg: func(t time.Time) any { return t.UTC() },
}

// PostgresBackend is a memory.Backend over a pgx connection pool.
type PostgresBackend struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a pool for dsn. Connections are established lazily;
// Ping performs the capability check.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresBackend{db: pool, logger: logger}, nil
}

func (s *PostgresBackend) Name() string { return "postgres" }

// Ping verifies the connection and applies migrations.
func (s *PostgresBackend) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, "postgres", func(ctx context.Context, sql string) error {
		_, err := s.db.Exec(ctx, sql)
		return err
	}, s.logger); err != nil {
		return err
	}
	s.logger.Info("PostgreSQL connected")
	return nil
}

// Close shuts down the connection pool.
func (s *PostgresBackend) Close(_ context.Context) error {
	s.db.Close()
	return nil
}

func (s *PostgresBackend) Upsert(ctx context.Context, rec memory.Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO memories (memory_type, key, value, created_at, updated_at, importance, source, is_expired)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		ON CONFLICT (memory_type, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at, is_expired = FALSE`,
		string(rec.Type), rec.Key, rec.Value, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), rec.Importance, rec.Source,
	)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func (s *PostgresBackend) Get(ctx context.Context, typ memory.Type, key string) (*memory.Record, error) {
	row := s.db.QueryRow(ctx, selectColumns+` WHERE memory_type = $1 AND key = $2`, string(typ), key)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return rec, nil
}

func (s *PostgresBackend) Search(ctx context.Context, f memory.Filter) ([]memory.Record, error) {
	q, args := buildSearch(f, postgresDialect)
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresBackend) Update(ctx context.Context, rec memory.Record) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE memories SET value = $3, importance = $4, is_expired = $5, updated_at = $6
		WHERE memory_type = $1 AND key = $2`,
		string(rec.Type), rec.Key, rec.Value, rec.Importance, rec.IsExpired, rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func scanPostgres(row pgx.Row) (*memory.Record, error) {
	var (
		rec memory.Record
		typ string
	)
	if err := row.Scan(&typ, &rec.Key, &rec.Value, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.Importance, &rec.Source, &rec.IsExpired); err != nil {
		return nil, err
	}
	rec.Type = memory.Type(typ)
	return &rec, nil
}
