package dashboard

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/monitoring"
	"github.com/sells-group/site-analyzer/internal/present"
	"github.com/sells-group/site-analyzer/internal/store"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{
		Questions:   s.opts.Questions.Texts(),
		Runs:        s.history(r.Context()),
		MaxUploadMB: s.opts.MaxUploadBytes >> 20,
	}
	render(w, indexPage, data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	lr, status, err := s.start(w, r)
	if err != nil {
		http.Error(w, uploadMessage(err, status), status)
		return
	}
	http.Redirect(w, r, "/runs/"+lr.run.ID, http.StatusSeeOther)
}

func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	run, done, err := s.lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.notFound(w, err)
		return
	}
	view := present.Project(*run.Table)
	render(w, runPage, runData{
		Run:     run,
		Running: run.Status == model.RunStatusRunning,
		Done:    done,
		Header:  view.Header,
		Rows:    view.Rows,
	})
}

func (s *Server) handleCancelPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.cancelRun(id) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, "/runs/"+id, http.StatusSeeOther)
}

func (s *Server) handleQuestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Questions)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.history(r.Context())
	if runs == nil {
		runs = []runSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	lr, status, err := s.start(w, r)
	if err != nil {
		writeJSON(w, status, map[string]string{"error": uploadMessage(err, status)})
		return
	}
	run, _ := lr.snapshot()
	writeJSON(w, http.StatusAccepted, summarize(run, 0))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, done, err := s.lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		zap.L().Error("dashboard: load run failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load run"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":  summarize(run, done),
		"view": present.Project(*run.Table),
	})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.cancelRun(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling", "id": id})
}

// uploadMessage hides internal failures from the client; input problems
// are shown as they are.
func uploadMessage(err error, status int) string {
	var ife *model.InputFormatError
	switch {
	case errors.As(err, &ife):
		return ife.Error()
	case status == http.StatusRequestEntityTooLarge:
		return "upload is too large"
	case status == http.StatusBadRequest:
		return `expected a CSV or XLSX file in the "file" field`
	default:
		zap.L().Error("dashboard: start run failed", zap.Error(err))
		return "could not start run"
	}
}

// handleStats reports aggregate metrics over stored runs. The optional
// "since" query parameter is a Go duration such as "24h".
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var lookback time.Duration
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid since duration"})
			return
		}
		lookback = d
	}
	snap, err := monitoring.NewCollector(s.opts.Store).Collect(r.Context(), lookback)
	if err != nil {
		zap.L().Error("dashboard: collect stats failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not collect stats"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
