package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/pipeline"
	"github.com/sells-group/site-analyzer/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var questions = model.QuestionSet{Questions: []model.Question{
	{ID: "products", Text: "What does the company sell?"},
}}

const inputCSV = "Company,Website,Region\nAcme,https://acme.test,West\nGone,https://gone.test,East\n"

// instantRun answers every row immediately; rows at gone.test fail.
func instantRun(_ context.Context, records []model.Record, observe pipeline.Observer) (model.ResultTable, error) {
	table := model.ResultTable{Questions: questions, Results: make([]model.AnswerResult, len(records))}
	for i, rec := range records {
		res := model.AnswerResult{Record: rec, Answers: []model.QA{{Question: "What does the company sell?", Answer: "Widgets"}}}
		if strings.Contains(rec.URL, "gone.test") {
			res = model.Failure(rec, model.HTTPError(404, "Not Found"))
		}
		table.Results[i] = res
		observe(res, i+1, len(records))
	}
	return table, nil
}

// blockedRun finishes the first row and waits for cancellation.
func blockedRun(started chan<- struct{}) RunFunc {
	return func(ctx context.Context, records []model.Record, observe pipeline.Observer) (model.ResultTable, error) {
		first := model.AnswerResult{Record: records[0], Answers: []model.QA{{Question: "What does the company sell?", Answer: "Widgets"}}}
		observe(first, 1, len(records))
		close(started)
		<-ctx.Done()

		table := model.ResultTable{Questions: questions, Results: []model.AnswerResult{first}}
		for _, rec := range records[1:] {
			table.Results = append(table.Results, model.Failure(rec, model.NewRowError(model.ErrCanceled, "run canceled")))
		}
		return table, ctx.Err()
	}
}

func newServer(t *testing.T, run RunFunc, st store.Store) *Server {
	t.Helper()
	s := New(Options{Run: run, Store: st, Questions: questions, AllowedOrigins: []string{"*"}})
	s.newID = func() string { return "run-1" }
	t.Cleanup(s.Close)
	return s
}

func upload(t *testing.T, path, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func waitStopped(t *testing.T, s *Server, id string) {
	t.Helper()
	lr := s.live(id)
	require.NotNil(t, lr)
	select {
	case <-lr.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestHealth(t *testing.T) {
	h := newServer(t, instantRun, nil).Handler()
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestUpload_RedirectsAndCompletes(t *testing.T) {
	st := store.NewMemory()
	s := newServer(t, instantRun, st)
	h := s.Handler()

	rr := serve(h, upload(t, "/runs", "companies.csv", inputCSV))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/runs/run-1", rr.Header().Get("Location"))

	waitStopped(t, s, "run-1")

	page := serve(h, httptest.NewRequest(http.MethodGet, "/runs/run-1", nil))
	require.Equal(t, http.StatusOK, page.Code)
	body := page.Body.String()
	assert.Contains(t, body, "companies.csv")
	assert.Contains(t, body, "Widgets")
	assert.Contains(t, body, "ERROR: http_error(404): Not Found")
	assert.Contains(t, body, "complete")
	assert.NotContains(t, body, `http-equiv="refresh"`)

	saved, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, saved.Status)
	require.NotNil(t, saved.Table)
	assert.Len(t, saved.Table.Results, 2)
}

func TestUpload_MissingColumnIsBadRequest(t *testing.T) {
	h := newServer(t, instantRun, nil).Handler()

	rr := serve(h, upload(t, "/runs", "bad.csv", "Name,Phone\nAcme,555\n"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "missing")

	api := serve(h, upload(t, "/api/runs", "bad.csv", "Name,Phone\nAcme,555\n"))
	assert.Equal(t, http.StatusBadRequest, api.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(api.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "input format")
}

func TestUpload_NoFile(t *testing.T) {
	h := newServer(t, instantRun, nil).Handler()
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("x=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "CSV or XLSX")
}

func TestDownloads(t *testing.T) {
	s := newServer(t, instantRun, nil)
	h := s.Handler()
	serve(h, upload(t, "/runs", "companies.csv", inputCSV))
	waitStopped(t, s, "run-1")

	csvResp := serve(h, httptest.NewRequest(http.MethodGet, "/runs/run-1/results.csv", nil))
	require.Equal(t, http.StatusOK, csvResp.Code)
	assert.Contains(t, csvResp.Header().Get("Content-Disposition"), "website_analysis_results.csv")
	lines := strings.Split(strings.TrimSpace(csvResp.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Company,Website,Region,What does the company sell?,Status", lines[0])
	assert.Equal(t, "Acme,https://acme.test,West,Widgets,OK", lines[1])

	jsonResp := serve(h, httptest.NewRequest(http.MethodGet, "/runs/run-1/results.json", nil))
	require.Equal(t, http.StatusOK, jsonResp.Code)
	var doc struct {
		Results []struct {
			Company string `json:"company"`
			Status  string `json:"status"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(jsonResp.Body.Bytes(), &doc))
	require.Len(t, doc.Results, 2)
	assert.Equal(t, "Gone", doc.Results[1].Company)
}

func TestCancelRun(t *testing.T) {
	started := make(chan struct{})
	s := newServer(t, blockedRun(started), nil)
	h := s.Handler()

	rr := serve(h, upload(t, "/api/runs", "companies.csv", inputCSV))
	require.Equal(t, http.StatusAccepted, rr.Code)
	<-started

	running := serve(h, httptest.NewRequest(http.MethodGet, "/runs/run-1", nil))
	assert.Contains(t, running.Body.String(), `http-equiv="refresh"`)
	assert.Contains(t, running.Body.String(), "1 of 2 rows finished")

	cancel := serve(h, httptest.NewRequest(http.MethodPost, "/api/runs/run-1/cancel", nil))
	require.Equal(t, http.StatusAccepted, cancel.Code)
	waitStopped(t, s, "run-1")

	got := serve(h, httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil))
	require.Equal(t, http.StatusOK, got.Code)
	var body struct {
		Run struct {
			Status string `json:"status"`
			Done   int    `json:"done"`
		} `json:"run"`
		View struct {
			Rows [][]string `json:"rows"`
		} `json:"view"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &body))
	assert.Equal(t, "canceled", body.Run.Status)
	require.Len(t, body.View.Rows, 2)
	assert.Equal(t, "OK", body.View.Rows[0][len(body.View.Rows[0])-1])
	assert.Equal(t, "ERROR: canceled: run canceled", body.View.Rows[1][len(body.View.Rows[1])-1])
}

func TestRunNotFound(t *testing.T) {
	h := newServer(t, instantRun, nil).Handler()

	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodGet, "/runs/nope", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodPost, "/runs/nope/cancel", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodGet, "/runs/nope/results.csv", nil)).Code)
}

func TestStoredRunsListed(t *testing.T) {
	st := store.NewMemory()
	old := model.Run{
		ID:        "old-run",
		Input:     "last-week.csv",
		Status:    model.RunStatusComplete,
		Rows:      1,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Table: &model.ResultTable{Questions: questions, Results: []model.AnswerResult{
			{Record: model.Record{Company: "Old Co", URL: "https://old.test"}, Answers: []model.QA{{Question: "What does the company sell?", Answer: "Bolts"}}},
		}},
	}
	require.NoError(t, st.SaveRun(context.Background(), &old))

	h := newServer(t, instantRun, st).Handler()

	index := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, index.Code)
	assert.Contains(t, index.Body.String(), "last-week.csv")
	assert.Contains(t, index.Body.String(), "What does the company sell?")

	list := serve(h, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	var body struct {
		Runs []runSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "old-run", body.Runs[0].ID)
	assert.Equal(t, 1, body.Runs[0].Done)

	page := serve(h, httptest.NewRequest(http.MethodGet, "/runs/old-run", nil))
	assert.Contains(t, page.Body.String(), "Bolts")
}

func TestQuestionsEndpoint(t *testing.T) {
	h := newServer(t, instantRun, nil).Handler()
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/questions", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"products"`)
}

func TestStatsEndpoint(t *testing.T) {
	st := store.NewMemory()
	s := newServer(t, instantRun, st)
	h := s.Handler()
	serve(h, upload(t, "/runs", "companies.csv", inputCSV))
	waitStopped(t, s, "run-1")

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/stats?since=24h", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var snap struct {
		RunsComplete int `json:"runs_complete"`
		RowsTotal    int `json:"rows_total"`
		RowsFailed   int `json:"rows_failed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 2, snap.RowsTotal)
	assert.Equal(t, 1, snap.RowsFailed)

	bad := serve(h, httptest.NewRequest(http.MethodGet, "/api/stats?since=soon", nil))
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}
