package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sells-group/site-analyzer/internal/model"
)

// liveRun tracks a run started by this process.
type liveRun struct {
	mu       sync.Mutex
	run      model.Run
	results  []model.AnswerResult
	finished []bool
	done     int
	table    *model.ResultTable
	cancel   context.CancelFunc
	stopped  chan struct{}
}

func newLiveRun(id, input string, qs model.QuestionSet, records []model.Record, now time.Time) *liveRun {
	return &liveRun{
		run: model.Run{
			ID:        id,
			Input:     input,
			Status:    model.RunStatusRunning,
			Rows:      len(records),
			CreatedAt: now,
			UpdatedAt: now,
		},
		results:  make([]model.AnswerResult, len(records)),
		finished: make([]bool, len(records)),
		table:    &model.ResultTable{Questions: qs},
		stopped:  make(chan struct{}),
	}
}

// observe records one finished row.
func (lr *liveRun) observe(res model.AnswerResult, _, _ int) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	i := res.Record.Index
	if i < 0 || i >= len(lr.results) || lr.finished[i] {
		return
	}
	lr.results[i] = res
	lr.finished[i] = true
	lr.done++
}

// finish stores the final table and status.
func (lr *liveRun) finish(table model.ResultTable, err error, now time.Time) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	switch {
	case err == nil:
		lr.run.Status = model.RunStatusComplete
	case errors.Is(err, context.Canceled):
		lr.run.Status = model.RunStatusCanceled
	default:
		lr.run.Status = model.RunStatusFailed
	}
	lr.table = &table
	lr.done = len(table.Results)
	for i := range lr.finished {
		lr.finished[i] = true
	}
	lr.run.UpdatedAt = now
}

// snapshot returns the run with a table of the rows finished so far, in
// input order.
func (lr *liveRun) snapshot() (model.Run, int) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	run := lr.run
	table := model.ResultTable{Questions: lr.table.Questions}
	if run.Status != model.RunStatusRunning {
		table.Results = append(table.Results, lr.table.Results...)
	} else {
		for i, ok := range lr.finished {
			if ok {
				table.Results = append(table.Results, lr.results[i])
			}
		}
	}
	run.Table = &table
	return run, lr.done
}

func (lr *liveRun) running() bool {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.run.Status == model.RunStatusRunning
}
