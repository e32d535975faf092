package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/site-analyzer/internal/model"
)

type memEntry struct {
	content   []byte
	expiresAt time.Time
}

// MemoryStore keeps everything in process memory. It backs offline runs and
// tests; nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	scrapes map[string]memEntry
	answers map[string]memEntry
	runs    map[string]model.Run
	now     func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		scrapes: make(map[string]memEntry),
		answers: make(map[string]memEntry),
		runs:    make(map[string]model.Run),
		now:     time.Now,
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetCachedScrape(_ context.Context, key string) ([]byte, error) {
	return m.get(m.scrapes, key), nil
}

func (m *MemoryStore) SetCachedScrape(_ context.Context, key string, content []byte, ttl time.Duration) error {
	m.set(m.scrapes, key, content, ttl)
	return nil
}

func (m *MemoryStore) GetCachedAnswer(_ context.Context, key string) ([]byte, error) {
	return m.get(m.answers, key), nil
}

func (m *MemoryStore) SetCachedAnswer(_ context.Context, key string, content []byte, ttl time.Duration) error {
	m.set(m.answers, key, content, ttl)
	return nil
}

func (m *MemoryStore) get(cache map[string]memEntry, key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := cache[key]
	if !ok || !e.expiresAt.After(m.now()) {
		return nil
	}
	return append([]byte(nil), e.content...)
}

func (m *MemoryStore) set(cache map[string]memEntry, key string, content []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cache[key] = memEntry{content: append([]byte(nil), content...), expiresAt: m.now().Add(ttl)}
}

func (m *MemoryStore) DeleteExpired(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for _, cache := range []map[string]memEntry{m.scrapes, m.answers} {
		for k, e := range cache {
			if !e.expiresAt.After(now) {
				delete(cache, k)
				n++
			}
		}
	}
	return n, nil
}

func (m *MemoryStore) ClearCache(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.scrapes) + len(m.answers)
	clear(m.scrapes)
	clear(m.answers)
	return n, nil
}

func (m *MemoryStore) SaveRun(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	if existing, ok := m.runs[run.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	m.runs[run.ID] = cp
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]model.Run, error) {
	m.mu.RLock()
	var runs []model.Run
	for _, r := range m.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		r.Table = nil
		runs = append(runs, r)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})

	if filter.Offset >= len(runs) {
		return nil, nil
	}
	runs = runs[max(filter.Offset, 0):]
	if limit := listLimit(filter); len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
