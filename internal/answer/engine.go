// Package answer asks the language model a question set about one
// company's website text and maps the reply back onto the questions.
package answer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/config"
	"github.com/sells-group/site-analyzer/internal/cost"
	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/resilience"
	"github.com/sells-group/site-analyzer/internal/store"
	"github.com/sells-group/site-analyzer/pkg/anthropic"
)

// Config configures an Engine.
type Config struct {
	Model       string
	MaxTokens   int64
	Temperature float64

	MaxContentChars int
	SystemPrompt    string
	UserTemplate    string
	EmptyMarker     string

	Retry   resilience.RetryConfig
	Circuit resilience.CircuitBreakerConfig
}

// FromConfig builds an answer Config from the application config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Model:           cfg.Anthropic.Model,
		MaxTokens:       cfg.Anthropic.MaxTokens,
		Temperature:     cfg.Anthropic.Temperature,
		MaxContentChars: cfg.Answer.MaxContentChars,
		SystemPrompt:    cfg.Answer.SystemPrompt,
		UserTemplate:    cfg.Answer.UserTemplate,
		EmptyMarker:     cfg.Answer.EmptyMarker,
		Retry:           resilience.FromRetryConfig(cfg.Retry),
		Circuit:         resilience.FromCircuitConfig(cfg.Circuit),
	}
}

// Option customises an Engine.
type Option func(*Engine)

// WithCache enables the answer cache.
func WithCache(st store.Store, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = st
		e.cacheTTL = ttl
	}
}

// WithCalculator prices token usage.
func WithCalculator(c *cost.Calculator) Option {
	return func(e *Engine) { e.costs = c }
}

// Engine builds one prompt per record and parses the reply.
type Engine struct {
	client   anthropic.Client
	cfg      Config
	prompts  *prompter
	breaker  *resilience.CircuitBreaker
	costs    *cost.Calculator
	cache    store.Store
	cacheTTL time.Duration
}

// New creates an Engine. It fails only when a configured prompt template
// does not parse.
func New(client anthropic.Client, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.EmptyMarker == "" {
		cfg.EmptyMarker = "(no website text could be extracted)"
	}

	prompts, err := newPrompter(cfg)
	if err != nil {
		return nil, err
	}

	breakerCfg := cfg.Circuit
	breakerCfg.ShouldTrip = shouldTrip
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("answer: circuit breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	e := &Engine{
		client:  client,
		cfg:     cfg,
		prompts: prompts,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		costs:   cost.NewCalculator(config.PricingConfig{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// cachedAnswer is the JSON document stored in the answer cache.
type cachedAnswer struct {
	Answers []model.QA `json:"answers"`
}

// Answer asks every question in qs about text. Empty text still produces a
// prompt, with the empty marker in place of content. Failures are
// returned as an upstream row error with no answers.
func (e *Engine) Answer(ctx context.Context, rec model.Record, text string, qs model.QuestionSet) model.AnswerResult {
	log := zap.L().With(zap.String("company", rec.Label()), zap.String("url", rec.URL))

	if qs.Len() == 0 {
		return model.AnswerResult{Record: rec, Answers: []model.QA{}}
	}

	system, user, err := e.prompts.render(rec, text, qs)
	if err != nil {
		return model.Failure(rec, model.NewRowError(model.ErrUpstream, err.Error()))
	}

	key := cacheKey(e.cfg.Model, system, user)
	if answers, ok := e.lookup(ctx, key, qs); ok {
		log.Debug("answer: cache hit")
		return model.AnswerResult{Record: rec, Answers: answers, FromCache: true}
	}

	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &e.cfg.Temperature,
	}

	retry := e.cfg.Retry
	retry.OnRetry = resilience.RetryLogger(rec.Label(), "answer")

	resp, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return e.call(ctx, req)
		})
	})
	if err != nil {
		rowErr := classify(err)
		log.Warn("answer: model request failed", zap.String("error", rowErr.String()))
		return model.Failure(rec, rowErr)
	}

	usage := e.costs.Usage(e.cfg.Model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

	answers, err := parseAnswers(resp.Text(), qs)
	if err != nil {
		log.Warn("answer: unusable reply",
			zap.Error(err),
			zap.String("stop_reason", resp.StopReason),
		)
		res := model.Failure(rec, model.NewRowError(model.ErrUpstream, err.Error()))
		res.Usage = usage
		return res
	}

	e.store(ctx, key, answers)
	log.Debug("answer: done",
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", usage.Cost),
	)
	return model.AnswerResult{Record: rec, Answers: answers, Usage: usage}
}

// BreakerState exposes the circuit breaker state for status reporting.
func (e *Engine) BreakerState() resilience.CircuitState {
	return e.breaker.State()
}

func (e *Engine) call(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	resp, err := e.client.CreateMessage(ctx, req)
	if err == nil {
		return resp, nil
	}
	status := anthropic.StatusCode(err)
	if resilience.IsTransientHTTPStatus(status) || (status == 0 && resilience.IsTransient(err)) {
		return nil, resilience.NewTransientError(err, status)
	}
	return nil, err
}

// shouldTrip counts only failures of the service itself; cancellations and
// rejected requests do not open the circuit.
func shouldTrip(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	status := anthropic.StatusCode(err)
	return status == 0 || status == 429 || status >= 500
}

func classify(err error) *model.RowError {
	switch {
	case errors.Is(err, context.Canceled):
		return model.NewRowError(model.ErrCanceled, "run canceled")
	case errors.Is(err, resilience.ErrCircuitOpen):
		return model.NewRowError(model.ErrUpstream, "model unavailable after repeated failures")
	}
	msg := "model request failed"
	if status := anthropic.StatusCode(err); status > 0 {
		msg = fmt.Sprintf("model request failed with status %d", status)
	} else if resilience.IsTimeout(err) {
		msg = "model request timed out"
	}
	return model.NewRowError(model.ErrUpstream, msg)
}

func cacheKey(modelID, system, user string) string {
	h := sha256.New()
	for _, part := range []string{modelID, system, user} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) lookup(ctx context.Context, key string, qs model.QuestionSet) ([]model.QA, bool) {
	if e.cache == nil {
		return nil, false
	}
	data, err := e.cache.GetCachedAnswer(ctx, key)
	if err != nil {
		zap.L().Warn("answer: cache lookup failed", zap.Error(err))
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var ca cachedAnswer
	if err := json.Unmarshal(data, &ca); err != nil || len(ca.Answers) != qs.Len() {
		return nil, false
	}
	return ca.Answers, true
}

func (e *Engine) store(ctx context.Context, key string, answers []model.QA) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(cachedAnswer{Answers: answers})
	if err == nil {
		err = e.cache.SetCachedAnswer(ctx, key, data, e.cacheTTL)
	}
	if err != nil {
		zap.L().Warn("answer: cache store failed", zap.Error(eris.Wrap(err, "answer: cache")))
	}
}
