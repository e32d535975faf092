package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/answer"
	"github.com/sells-group/site-analyzer/internal/extract"
	"github.com/sells-group/site-analyzer/internal/fetch"
	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/resilience"
	"github.com/sells-group/site-analyzer/pkg/anthropic"
	"github.com/sells-group/site-analyzer/pkg/anthropic/mocks"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var questions = model.QuestionSet{Questions: []model.Question{
	{ID: "products", Text: "What does the company sell?"},
	{ID: "b2b", Text: "Does it sell to businesses?", Type: model.QuestionYesNo},
}}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func sites(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Acme</title></head><body><h1>Acme</h1><p>We make widgets.</p></body></html>`)) //nolint:errcheck
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func widgetModel(t *testing.T) anthropic.Client {
	t.Helper()
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return strings.Contains(req.Messages[0].Content, "We make widgets.")
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: `{"answers":[{"id":"products","answer":"Widgets"},{"id":"b2b","answer":"Yes"}]}`}},
		Usage:   anthropic.TokenUsage{InputTokens: 200, OutputTokens: 20},
	}, nil).Maybe()
	return client
}

func newPipeline(t *testing.T, client anthropic.Client, opts ...Option) *Pipeline {
	t.Helper()
	engine, err := answer.New(client, answer.Config{Model: "claude-haiku-4-5-20251001", Retry: fastRetry()})
	require.NoError(t, err)
	f := fetch.New(fetch.Config{Timeout: 2 * time.Second, Retry: fastRetry(), PerHostRPS: 1000, PerHostBurst: 100})
	return New(f, extract.New(extract.Options{}), engine, questions, opts...)
}

func TestRun_AcmeWidgets(t *testing.T) {
	ts := sites(t)
	p := newPipeline(t, widgetModel(t))

	table, err := p.Run(context.Background(), []model.Record{{Index: 0, Company: "Acme", URL: ts.URL}})
	require.NoError(t, err)
	require.Len(t, table.Results, 1)

	res := table.Results[0]
	require.Nil(t, res.Error)
	assert.Equal(t, "Acme", res.Record.Company)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, []model.QA{
		{Question: "What does the company sell?", Answer: "Widgets"},
		{Question: "Does it sell to businesses?", Answer: "Yes"},
	}, res.Answers)
}

func TestRun_OrderPreservedWithFailures(t *testing.T) {
	ts := sites(t)
	p := newPipeline(t, widgetModel(t), WithConcurrency(4))

	records := []model.Record{
		{Index: 0, Company: "Acme", URL: ts.URL},
		{Index: 1, Company: "Gone", URL: ts.URL + "/missing"},
		{Index: 2, Company: "Nowhere", URL: "https://nonexistent.invalid"},
		{Index: 3, Company: "Blank", URL: ""},
		{Index: 4, Company: "Acme again", URL: ts.URL},
	}
	table, err := p.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, table.Results, len(records))

	for i, res := range table.Results {
		assert.Equal(t, records[i].Company, res.Record.Company, "row %d", i)
	}

	assert.Nil(t, table.Results[0].Error)

	require.NotNil(t, table.Results[1].Error)
	assert.Equal(t, "http_error(404)", table.Results[1].Error.Label())
	assert.Empty(t, table.Results[1].Answers)

	require.NotNil(t, table.Results[2].Error)
	assert.Equal(t, model.ErrUnreachable, table.Results[2].Error.Kind)
	assert.Empty(t, table.Results[2].Answers)

	require.NotNil(t, table.Results[3].Error)
	assert.Equal(t, model.ErrInvalidURL, table.Results[3].Error.Kind)

	assert.Nil(t, table.Results[4].Error)

	succeeded, failed := table.Counts()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 3, failed)
}

func TestRun_Empty(t *testing.T) {
	p := newPipeline(t, mocks.NewMockClient(t))
	table, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, table.Results)
	assert.Equal(t, questions, table.Questions)
}

func TestRun_IdempotentJSON(t *testing.T) {
	ts := sites(t)
	records := []model.Record{
		{Index: 0, Company: "Acme", URL: ts.URL, Extra: []model.Field{{Name: "Region", Value: "West"}}},
		{Index: 1, Company: "Gone", URL: ts.URL + "/missing"},
	}

	encode := func() []byte {
		table, err := newPipeline(t, widgetModel(t), WithConcurrency(2)).Run(context.Background(), records)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(table))
		return buf.Bytes()
	}
	assert.Equal(t, encode(), encode())
}

func TestRun_Observer(t *testing.T) {
	ts := sites(t)
	var (
		mu    sync.Mutex
		dones []int
	)
	p := newPipeline(t, widgetModel(t), WithConcurrency(3), WithObserver(func(_ model.AnswerResult, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, total)
		dones = append(dones, done)
	}))

	records := []model.Record{
		{Index: 0, URL: ts.URL}, {Index: 1, URL: ts.URL}, {Index: 2, URL: ts.URL},
	}
	_, err := p.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, dones)
}

// blockingFetcher finishes the first row and blocks every other row until
// its context ends.
type blockingFetcher struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingFetcher) Fetch(ctx context.Context, rec model.Record) model.ScrapedContent {
	if rec.Index == 0 {
		return model.ScrapedContent{Record: rec, Pages: []model.Page{{URL: rec.URL}}}
	}
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return model.ScrapedContent{Record: rec}
}

type fixedAnswerer struct{}

func (fixedAnswerer) Answer(_ context.Context, rec model.Record, _ string, qs model.QuestionSet) model.AnswerResult {
	out := make([]model.QA, qs.Len())
	for i, q := range qs.Questions {
		out[i] = model.QA{Question: q.Text, Answer: "ok"}
	}
	return model.AnswerResult{Record: rec, Answers: out}
}

func TestRun_CancelMarksUnfinishedRows(t *testing.T) {
	fetcher := &blockingFetcher{started: make(chan struct{})}
	p := New(fetcher, extract.New(extract.Options{}), fixedAnswerer{}, questions, WithConcurrency(2))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fetcher.started
		cancel()
	}()

	records := make([]model.Record, 6)
	for i := range records {
		records[i] = model.Record{Index: i, Company: "Row", URL: "https://row.test"}
	}
	table, err := p.Run(ctx, records)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, table.Results, len(records))

	assert.Nil(t, table.Results[0].Error)
	assert.Len(t, table.Results[0].Answers, 2)
	for _, res := range table.Results[1:] {
		require.NotNil(t, res.Error)
		assert.Equal(t, model.ErrCanceled, res.Error.Kind)
		assert.Empty(t, res.Answers)
	}
}

func TestProcess_ReturnsScrapedContent(t *testing.T) {
	ts := sites(t)
	p := newPipeline(t, widgetModel(t))

	sc, res := p.Process(context.Background(), model.Record{Company: "Acme", URL: ts.URL})
	require.Nil(t, res.Error)
	assert.Contains(t, sc.Text, "We make widgets.")
	assert.Equal(t, "Acme", sc.Pages[0].Title)
}
