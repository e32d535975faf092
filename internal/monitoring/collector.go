// Package monitoring aggregates stored run history into health metrics.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/store"
)

// statsRunLimit caps how many runs a single snapshot inspects.
const statsRunLimit = 10000

// KindCount is the number of failed rows of one error kind.
type KindCount struct {
	Kind  model.ErrorKind `json:"kind"`
	Count int             `json:"count"`
}

// MetricsSnapshot holds a point-in-time view of recent runs.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int `json:"runs_total"`
	RunsComplete int `json:"runs_complete"`
	RunsCanceled int `json:"runs_canceled"`
	RunsFailed   int `json:"runs_failed"`
	RunsRunning  int `json:"runs_running"`

	// Row metrics across runs that have a result table.
	RowsTotal    int         `json:"rows_total"`
	RowsFailed   int         `json:"rows_failed"`
	RowsCached   int         `json:"rows_cached"`
	RowFailRate  float64     `json:"row_fail_rate"`
	FailureKinds []KindCount `json:"failure_kinds,omitempty"`

	Usage model.TokenUsage `json:"usage"`

	// Metadata.
	Lookback    time.Duration `json:"lookback"`
	CollectedAt time.Time     `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	store   store.Store
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, nowFunc: time.Now}
}

// Collect gathers a snapshot of the runs created within lookback. A zero
// lookback covers every stored run.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{Lookback: lookback, CollectedAt: now}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: statsRunLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	cutoff := now.Add(-lookback)
	kinds := make(map[model.ErrorKind]int)
	for _, r := range runs {
		if lookback > 0 && r.CreatedAt.Before(cutoff) {
			break // newest first
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusCanceled:
			snap.RunsCanceled++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		full, err := c.store.GetRun(ctx, r.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: get run %s", r.ID)
		}
		if full.Table == nil {
			continue
		}
		for _, res := range full.Table.Results {
			snap.RowsTotal++
			snap.Usage.Add(res.Usage)
			if res.FromCache {
				snap.RowsCached++
			}
			if res.Error != nil {
				snap.RowsFailed++
				kinds[res.Error.Kind]++
			}
		}
	}

	if snap.RowsTotal > 0 {
		snap.RowFailRate = float64(snap.RowsFailed) / float64(snap.RowsTotal)
	}
	for k, n := range kinds {
		snap.FailureKinds = append(snap.FailureKinds, KindCount{Kind: k, Count: n})
	}
	sort.Slice(snap.FailureKinds, func(i, j int) bool {
		a, b := snap.FailureKinds[i], snap.FailureKinds[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Kind < b.Kind
	})

	return snap, nil
}
