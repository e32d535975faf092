package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/store"
)

func result(err *model.RowError, cached bool) model.AnswerResult {
	return model.AnswerResult{
		Error:     err,
		FromCache: cached,
		Usage:     model.TokenUsage{InputTokens: 100, OutputTokens: 10, Cost: 0.01},
	}
}

func seed(t *testing.T, st store.Store, runs ...model.Run) {
	t.Helper()
	for i := range runs {
		require.NoError(t, st.SaveRun(context.Background(), &runs[i]))
	}
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemory()
	seed(t, st,
		model.Run{
			ID: "r1", Status: model.RunStatusComplete, CreatedAt: now.Add(-time.Hour),
			Table: &model.ResultTable{Results: []model.AnswerResult{
				result(nil, false),
				result(nil, true),
				result(model.HTTPError(404, "Not Found"), false),
				result(model.NewRowError(model.ErrUnreachable, "no such host"), false),
			}},
		},
		model.Run{
			ID: "r2", Status: model.RunStatusCanceled, CreatedAt: now.Add(-2 * time.Hour),
			Table: &model.ResultTable{Results: []model.AnswerResult{
				result(model.HTTPError(500, "Internal Server Error"), false),
			}},
		},
		model.Run{ID: "r3", Status: model.RunStatusRunning, CreatedAt: now.Add(-10 * time.Minute)},
		model.Run{ID: "old", Status: model.RunStatusFailed, CreatedAt: now.Add(-72 * time.Hour)},
	)

	c := NewCollector(st)
	c.nowFunc = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsCanceled)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Zero(t, snap.RunsFailed)

	assert.Equal(t, 5, snap.RowsTotal)
	assert.Equal(t, 3, snap.RowsFailed)
	assert.Equal(t, 1, snap.RowsCached)
	assert.InDelta(t, 0.6, snap.RowFailRate, 0.0001)
	assert.Equal(t, 500, snap.Usage.InputTokens)
	assert.InDelta(t, 0.05, snap.Usage.Cost, 0.0001)

	assert.Equal(t, []KindCount{
		{Kind: model.ErrHTTP, Count: 2},
		{Kind: model.ErrUnreachable, Count: 1},
	}, snap.FailureKinds)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_ZeroLookbackCoversAll(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Run{ID: "old", Status: model.RunStatusFailed, CreatedAt: time.Now().Add(-1000 * time.Hour)})

	snap, err := NewCollector(st).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Zero(t, snap.RowFailRate)
	assert.Empty(t, snap.FailureKinds)
}
