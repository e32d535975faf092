package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/monitoring"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Input:     "companies.csv",
			Status:    model.RunStatusComplete,
			Rows:      12,
			CreatedAt: now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Input:     "leads.xlsx",
			Status:    model.RunStatusCanceled,
			Rows:      3,
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "companies.csv")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "leads.xlsx")
	assert.Contains(t, output, "canceled")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
}

func TestFormatRunStats(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		RunsTotal:    3,
		RunsComplete: 2,
		RunsCanceled: 1,
		RowsTotal:    10,
		RowsFailed:   4,
		RowsCached:   2,
		RowFailRate:  0.4,
		FailureKinds: []monitoring.KindCount{{Kind: model.ErrHTTP, Count: 3}, {Kind: model.ErrTimeout, Count: 1}},
		Usage:        model.TokenUsage{InputTokens: 1200, OutputTokens: 300, Cost: 0.0123},
	}

	var buf bytes.Buffer
	formatRunStats(&buf, snap)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "4 (40.0%)")
	assert.Contains(t, output, "http_error:")
	assert.Contains(t, output, "timeout:")
	assert.Contains(t, output, "1200 in / 300 out")
	assert.Contains(t, output, "$0.0123")
}
