package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/answer"
	"github.com/sells-group/site-analyzer/internal/cost"
	"github.com/sells-group/site-analyzer/internal/extract"
	"github.com/sells-group/site-analyzer/internal/fetch"
	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/pipeline"
	"github.com/sells-group/site-analyzer/internal/registry"
	"github.com/sells-group/site-analyzer/internal/store"
	"github.com/sells-group/site-analyzer/pkg/anthropic"
)

// analyzerEnv holds the store, question set and row stages needed by the
// analyze, inspect and serve commands.
type analyzerEnv struct {
	Store     store.Store
	Questions model.QuestionSet
	Fetcher   *fetch.Fetcher
	Extractor *extract.Extractor
	Engine    *answer.Engine
}

// Close releases resources held by the environment.
func (e *analyzerEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Pipeline builds a pipeline over the environment's stages.
func (e *analyzerEnv) Pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	opts = append([]pipeline.Option{pipeline.WithConcurrency(cfg.Batch.Concurrency)}, opts...)
	return pipeline.New(e.Fetcher, e.Extractor, e.Engine, e.Questions, opts...)
}

// initAnalyzer validates config, opens the store, loads the questions and
// builds the row stages. Offline mode answers with a stub client and keeps
// caches in memory. Callers should defer env.Close().
func initAnalyzer(ctx context.Context, mode string, offline bool) (*analyzerEnv, error) {
	if offline {
		mode = "offline"
		cfg.Store.Driver = "memory"
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	qs, err := registry.Load(ctx, cfg.Questions, cfg.Notion)
	if err != nil {
		return nil, eris.Wrap(err, "load questions")
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	var client anthropic.Client
	if offline {
		zap.L().Warn("offline mode: answers come from a stub client")
		client = answer.NewStubClient()
	} else {
		client = anthropic.NewClient(anthropic.Options{
			APIKey:  cfg.Anthropic.Key,
			BaseURL: cfg.Anthropic.BaseURL,
			Timeout: time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
		})
	}

	var (
		fetchOpts  []fetch.Option
		answerOpts = []answer.Option{answer.WithCalculator(cost.NewCalculator(cfg.Pricing))}
	)
	if cfg.Cache.Enabled {
		fetchOpts = append(fetchOpts, fetch.WithCache(st, time.Duration(cfg.Cache.ScrapeTTLHours)*time.Hour))
		answerOpts = append(answerOpts, answer.WithCache(st, time.Duration(cfg.Cache.AnswerTTLHours)*time.Hour))
	}

	engine, err := answer.New(client, answer.FromConfig(cfg), answerOpts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	zap.L().Info("analyzer ready",
		zap.Int("questions", qs.Len()),
		zap.String("store", cfg.Store.Driver),
		zap.String("model", cfg.Anthropic.Model),
		zap.Bool("cache", cfg.Cache.Enabled),
	)

	return &analyzerEnv{
		Store:     st,
		Questions: qs,
		Fetcher:   fetch.New(fetch.FromConfig(cfg), fetchOpts...),
		Extractor: extract.New(extract.OptionsFromConfig(cfg.Extract)),
		Engine:    engine,
	}, nil
}
