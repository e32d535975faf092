package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGet(t *testing.T) {
	t.Parallel()

	rec := Record{Company: "Acme", URL: "https://acme.test", Extra: []Field{
		{Name: "City", Value: "Austin"},
		{Name: "State", Value: "TX"},
	}}

	assert.Equal(t, "Austin", rec.Get("City"))
	assert.Equal(t, "TX", rec.Get("State"))
	assert.Empty(t, rec.Get("Zip"))
}

func TestRecordLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Acme", Record{Company: "Acme", URL: "https://acme.test"}.Label())
	assert.Equal(t, "https://acme.test", Record{URL: "https://acme.test"}.Label())
}

func TestRowErrorLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *RowError
		want string
	}{
		{"nil", nil, ""},
		{"unreachable", NewRowError(ErrUnreachable, "no such host"), "unreachable"},
		{"http with status", HTTPError(404, "not found"), "http_error(404)"},
		{"http without status", &RowError{Kind: ErrHTTP}, "http_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Label())
		})
	}
}

func TestRowErrorString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "timeout", NewRowError(ErrTimeout, "").String())
	assert.Equal(t, "http_error(503): Service Unavailable", HTTPError(503, "Service Unavailable").String())

	var nilErr *RowError
	assert.Empty(t, nilErr.String())
}

func TestInputFormatError(t *testing.T) {
	t.Parallel()

	err := &InputFormatError{Input: "companies.csv", Reason: `missing url column`}
	assert.Equal(t, "input format: companies.csv: missing url column", err.Error())
	assert.True(t, IsInputFormat(err))

	bare := &InputFormatError{Reason: "empty file"}
	assert.Equal(t, "input format: empty file", bare.Error())

	assert.False(t, IsInputFormat(assert.AnError))
}

func TestScrapedContentPages(t *testing.T) {
	t.Parallel()

	sc := ScrapedContent{Pages: []Page{
		{URL: "https://acme.test/", Depth: 0},
		{URL: "https://acme.test/about", Depth: 1},
		{URL: "https://acme.test/gone", Depth: 1, Error: HTTPError(404, "")},
	}}

	assert.False(t, sc.Failed())
	assert.Equal(t, 2, sc.FetchedPages())
	require.Len(t, sc.PageErrors(), 1)
	assert.Equal(t, "https://acme.test/gone", sc.PageErrors()[0].URL)

	sc.FetchError = NewRowError(ErrUnreachable, "dial tcp")
	assert.True(t, sc.Failed())
}

func TestFailureHasNoAnswers(t *testing.T) {
	t.Parallel()

	res := Failure(Record{Index: 3}, NewRowError(ErrUpstream, "bad reply"))
	assert.True(t, res.Failed())
	assert.NotNil(t, res.Answers)
	assert.Empty(t, res.Answers)
	assert.Equal(t, 3, res.Record.Index)
}

func TestResultTableCounts(t *testing.T) {
	t.Parallel()

	tbl := ResultTable{Results: []AnswerResult{
		{Answers: []QA{{Question: "q", Answer: "a"}}},
		Failure(Record{Index: 1}, HTTPError(404, "")),
		{Answers: []QA{{Question: "q", Answer: "b"}}},
	}}

	ok, failed := tbl.Counts()
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)
}

func TestQuestionSetTexts(t *testing.T) {
	t.Parallel()

	qs := QuestionSet{Questions: []Question{
		{ID: "a", Text: "What do they sell?"},
		{ID: "b", Text: "Are they an agency?", Type: QuestionYesNo},
	}}

	assert.Equal(t, 2, qs.Len())
	assert.Equal(t, []string{"What do they sell?", "Are they an agency?"}, qs.Texts())
}

func TestTokenUsageAdd(t *testing.T) {
	t.Parallel()

	u := TokenUsage{InputTokens: 100, OutputTokens: 20, Cost: 0.01}
	u.Add(TokenUsage{InputTokens: 50, OutputTokens: 5, Cost: 0.002})

	assert.Equal(t, 150, u.InputTokens)
	assert.Equal(t, 25, u.OutputTokens)
	assert.InDelta(t, 0.012, u.Cost, 1e-9)
}

func TestAnswerResultJSON(t *testing.T) {
	t.Parallel()

	res := Failure(Record{Index: 1, Company: "Beta", URL: "https://beta.test"}, HTTPError(404, "Not Found"))
	data, err := json.Marshal(res)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"kind":"http_error"`)
	assert.Contains(t, string(data), `"status":404`)
	assert.Contains(t, string(data), `"answers":[]`)
}
