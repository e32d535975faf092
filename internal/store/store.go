// Package store persists the scrape cache, answer cache and run history.
// Persistence is best-effort: callers log store errors and carry on.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-analyzer/internal/config"
	"github.com/sells-group/site-analyzer/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface. Cache values are opaque JSON
// documents owned by the caller; a miss returns (nil, nil).
type Store interface {
	// Scrape cache
	GetCachedScrape(ctx context.Context, key string) ([]byte, error)
	SetCachedScrape(ctx context.Context, key string, content []byte, ttl time.Duration) error

	// Answer cache
	GetCachedAnswer(ctx context.Context, key string) ([]byte, error)
	SetCachedAnswer(ctx context.Context, key string, content []byte, ttl time.Duration) error

	// Maintenance
	DeleteExpired(ctx context.Context) (int, error)
	ClearCache(ctx context.Context) (int, error)

	// Runs
	SaveRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrRunNotFound is returned by GetRun for unknown IDs.
var ErrRunNotFound = eris.New("run not found")

// Open builds the configured backend and applies its migration.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "site-analyzer.db"
		}
		st, err = NewSQLite(dsn)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "memory":
		st = NewMemory()
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func listLimit(f RunFilter) int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}
