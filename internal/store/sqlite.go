package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/site-analyzer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Timestamps are unix seconds so expiry checks compare plain integers on
// every backend.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scrape_cache (
	key        TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS answer_cache (
	key        TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	input      TEXT NOT NULL,
	status     TEXT NOT NULL,
	rows       INTEGER NOT NULL DEFAULT 0,
	result     TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scrape_cache_expires_at ON scrape_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_answer_cache_expires_at ON answer_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCachedScrape(ctx context.Context, key string) ([]byte, error) {
	return s.getCached(ctx, "scrape_cache", key)
}

func (s *SQLiteStore) SetCachedScrape(ctx context.Context, key string, content []byte, ttl time.Duration) error {
	return s.setCached(ctx, "scrape_cache", key, content, ttl)
}

func (s *SQLiteStore) GetCachedAnswer(ctx context.Context, key string) ([]byte, error) {
	return s.getCached(ctx, "answer_cache", key)
}

func (s *SQLiteStore) SetCachedAnswer(ctx context.Context, key string, content []byte, ttl time.Duration) error {
	return s.setCached(ctx, "answer_cache", key, content, ttl)
}

// table is always one of the two constant cache table names.
func (s *SQLiteStore) getCached(ctx context.Context, table, key string) ([]byte, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM `+table+` WHERE key = ? AND expires_at > ?`,
		key, s.now().Unix(),
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", table)
	}
	return []byte(content), nil
}

func (s *SQLiteStore) setCached(ctx context.Context, table, key string, content []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (key, content, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET content = excluded.content, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, string(content), now.Unix(), now.Add(ttl).Unix(),
	)
	return eris.Wrapf(err, "sqlite: set %s", table)
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	return s.deleteFromCaches(ctx, `WHERE expires_at <= ?`, s.now().Unix())
}

func (s *SQLiteStore) ClearCache(ctx context.Context) (int, error) {
	return s.deleteFromCaches(ctx, ``)
}

func (s *SQLiteStore) deleteFromCaches(ctx context.Context, where string, args ...any) (int, error) {
	total := 0
	for _, table := range []string{"scrape_cache", "answer_cache"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` `+where, args...)
		if err != nil {
			return total, eris.Wrapf(err, "sqlite: delete from %s", table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, eris.Wrap(err, "sqlite: rows affected")
		}
		total += int(n)
	}
	return total, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.Run) error {
	var result sql.NullString
	if run.Table != nil {
		data, err := json.Marshal(run.Table)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run table")
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input, status, rows, result, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, rows = excluded.rows, result = excluded.result, updated_at = excluded.updated_at`,
		run.ID, run.Input, string(run.Status), run.Rows, result, run.CreatedAt.Unix(), run.UpdatedAt.Unix(),
	)
	return eris.Wrapf(err, "sqlite: save run %s", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input, status, rows, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)

	var r model.Run
	var result sql.NullString
	var created, updated int64
	err := row.Scan(&r.ID, &r.Input, &r.Status, &r.Rows, &result, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.UpdatedAt = time.Unix(updated, 0).UTC()

	if result.Valid {
		r.Table = &model.ResultTable{}
		if err := json.Unmarshal([]byte(result.String), r.Table); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run table")
		}
	}
	return &r, nil
}

// ListRuns returns run summaries, newest first. Tables are not loaded.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, input, status, rows, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var created, updated int64
		if err := rows.Scan(&r.ID, &r.Input, &r.Status, &r.Rows, &created, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.CreatedAt = time.Unix(created, 0).UTC()
		r.UpdatedAt = time.Unix(updated, 0).UTC()
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}
