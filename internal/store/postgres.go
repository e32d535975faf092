package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/site-analyzer/internal/model"
)

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: p, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scrape_cache (
	key        TEXT PRIMARY KEY,
	content    JSONB NOT NULL,
	cached_at  BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS answer_cache (
	key        TEXT PRIMARY KEY,
	content    JSONB NOT NULL,
	cached_at  BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	input      TEXT NOT NULL,
	status     TEXT NOT NULL,
	rows       INTEGER NOT NULL DEFAULT 0,
	result     JSONB,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scrape_cache_expires_at ON scrape_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_answer_cache_expires_at ON answer_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetCachedScrape(ctx context.Context, key string) ([]byte, error) {
	return s.getCached(ctx, "scrape_cache", key)
}

func (s *PostgresStore) SetCachedScrape(ctx context.Context, key string, content []byte, ttl time.Duration) error {
	return s.setCached(ctx, "scrape_cache", key, content, ttl)
}

func (s *PostgresStore) GetCachedAnswer(ctx context.Context, key string) ([]byte, error) {
	return s.getCached(ctx, "answer_cache", key)
}

func (s *PostgresStore) SetCachedAnswer(ctx context.Context, key string, content []byte, ttl time.Duration) error {
	return s.setCached(ctx, "answer_cache", key, content, ttl)
}

func (s *PostgresStore) getCached(ctx context.Context, table, key string) ([]byte, error) {
	var content []byte
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM `+table+` WHERE key = $1 AND expires_at > $2`,
		key, s.now().Unix(),
	).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", table)
	}
	return content, nil
}

func (s *PostgresStore) setCached(ctx context.Context, table, key string, content []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+` (key, content, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET content = EXCLUDED.content, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		key, content, now.Unix(), now.Add(ttl).Unix(),
	)
	return eris.Wrapf(err, "postgres: set %s", table)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	return s.deleteFromCaches(ctx, `WHERE expires_at <= $1`, s.now().Unix())
}

func (s *PostgresStore) ClearCache(ctx context.Context) (int, error) {
	return s.deleteFromCaches(ctx, ``)
}

func (s *PostgresStore) deleteFromCaches(ctx context.Context, where string, args ...any) (int, error) {
	total := 0
	for _, table := range []string{"scrape_cache", "answer_cache"} {
		tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` `+where, args...)
		if err != nil {
			return total, eris.Wrapf(err, "postgres: delete from %s", table)
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.Run) error {
	var result []byte
	if run.Table != nil {
		data, err := json.Marshal(run.Table)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run table")
		}
		result = data
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, input, status, rows, result, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, rows = EXCLUDED.rows, result = EXCLUDED.result, updated_at = EXCLUDED.updated_at`,
		run.ID, run.Input, string(run.Status), run.Rows, result, run.CreatedAt.Unix(), run.UpdatedAt.Unix(),
	)
	return eris.Wrapf(err, "postgres: save run %s", run.ID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var status string
	var result []byte
	var created, updated int64

	err := s.pool.QueryRow(ctx,
		`SELECT id, input, status, rows, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Input, &status, &r.Rows, &result, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	r.Status = model.RunStatus(status)
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	if len(result) > 0 {
		r.Table = &model.ResultTable{}
		if err := json.Unmarshal(result, r.Table); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run table")
		}
	}
	return &r, nil
}

// ListRuns returns run summaries, newest first. Tables are not loaded.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, input, status, rows, created_at, updated_at FROM runs`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	args = append(args, listLimit(filter), max(filter.Offset, 0))
	query += ` ORDER BY created_at DESC, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var created, updated int64
		if err := rows.Scan(&r.ID, &r.Input, &status, &r.Rows, &created, &updated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		r.CreatedAt = time.Unix(created, 0).UTC()
		r.UpdatedAt = time.Unix(updated, 0).UTC()
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
