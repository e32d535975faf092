// Package pipeline runs every input row through fetch, extract and answer
// with a bounded worker pool and assembles the ordered result table.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/site-analyzer/internal/model"
)

// Fetcher retrieves a record's website.
type Fetcher interface {
	Fetch(ctx context.Context, rec model.Record) model.ScrapedContent
}

// Extractor fills the visible text of fetched content.
type Extractor interface {
	Apply(sc *model.ScrapedContent)
}

// Answerer asks the question set about a website's text.
type Answerer interface {
	Answer(ctx context.Context, rec model.Record, text string, qs model.QuestionSet) model.AnswerResult
}

// Observer is told about every finished row. done counts finished rows
// including this one; calls are serialised.
type Observer func(res model.AnswerResult, done, total int)

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithConcurrency bounds the number of rows processed at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// Pipeline wires the three row stages together.
type Pipeline struct {
	fetcher     Fetcher
	extractor   Extractor
	answerer    Answerer
	questions   model.QuestionSet
	concurrency int
	observer    Observer
}

// New creates a Pipeline. qs is shared read-only by every row.
func New(f Fetcher, x Extractor, a Answerer, qs model.QuestionSet, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:     f,
		extractor:   x,
		answerer:    a,
		questions:   qs,
		concurrency: 5,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Questions returns the question set the pipeline asks.
func (p *Pipeline) Questions() model.QuestionSet { return p.questions }

// Run processes records and returns one result per record in input order.
// Row failures are recorded in the table and never abort the batch. When
// ctx is cancelled the rows that did not finish are marked canceled and
// the table is returned together with ctx.Err().
func (p *Pipeline) Run(ctx context.Context, records []model.Record) (model.ResultTable, error) {
	start := time.Now()
	total := len(records)
	results := make([]model.AnswerResult, total)
	finished := make([]bool, total)

	zap.L().Info("pipeline: processing batch",
		zap.Int("rows", total),
		zap.Int("concurrency", p.concurrency),
		zap.Int("questions", p.questions.Len()),
	)

	var (
		mu   sync.Mutex
		done int
	)
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, rec := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, res := p.Process(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			results[i] = res
			finished[i] = true
			done++
			if p.observer != nil {
				p.observer(res, done, total)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, rec := range records {
		if !finished[i] {
			results[i] = model.Failure(rec, canceled())
		}
	}

	table := model.ResultTable{Questions: p.questions, Results: results}
	var usage model.TokenUsage
	for _, r := range results {
		usage.Add(r.Usage)
	}
	succeeded, failed := table.Counts()
	zap.L().Info("pipeline: batch complete",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", usage.Cost),
		zap.Duration("elapsed", time.Since(start)),
	)

	return table, ctx.Err()
}

// Process runs one record through fetch, extract and answer. The scraped
// content is returned alongside the result for callers that show crawl
// details.
func (p *Pipeline) Process(ctx context.Context, rec model.Record) (model.ScrapedContent, model.AnswerResult) {
	sc := p.fetcher.Fetch(ctx, rec)
	if ctx.Err() != nil && (sc.Failed() || len(sc.Pages) == 0) {
		return sc, model.Failure(rec, canceled())
	}
	if sc.Failed() {
		return sc, model.Failure(rec, sc.FetchError)
	}

	p.extractor.Apply(&sc)

	res := p.answerer.Answer(ctx, rec, sc.Text, p.questions)
	res.Record = rec
	res.Pages = sc.FetchedPages()
	return sc, res
}

func canceled() *model.RowError {
	return model.NewRowError(model.ErrCanceled, "run canceled before this row finished")
}
