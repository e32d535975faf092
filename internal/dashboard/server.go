// Package dashboard serves the interactive results view: upload an input
// table, watch the result table grow, cancel a run and download results.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/pipeline"
	"github.com/sells-group/site-analyzer/internal/present"
	"github.com/sells-group/site-analyzer/internal/source"
	"github.com/sells-group/site-analyzer/internal/store"
)

// DownloadName is the file name offered for CSV downloads.
const DownloadName = "website_analysis_results.csv"

// RunFunc processes records, reporting each finished row to observe.
type RunFunc func(ctx context.Context, records []model.Record, observe pipeline.Observer) (model.ResultTable, error)

// Options configures a Server.
type Options struct {
	Run            RunFunc
	Store          store.Store
	Questions      model.QuestionSet
	Source         source.Options
	MaxUploadBytes int64
	AllowedOrigins []string
	// HistoryLimit bounds the stored runs listed on the index page.
	HistoryLimit int
}

// Server holds live runs and serves the dashboard.
type Server struct {
	opts  Options
	ctx   context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	runs map[string]*liveRun
}

// New creates a Server. Runs outlive the request that started them and
// end when Close is called.
func New(opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		opts:  opts,
		ctx:   ctx,
		stop:  stop,
		now:   time.Now,
		newID: uuid.NewString,
		runs:  make(map[string]*liveRun),
	}
}

// Close cancels every live run and waits for them to be saved.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

// Handler returns the dashboard routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Get("/", s.handleIndex)
	r.Post("/runs", s.handleUpload)
	r.Get("/runs/{id}", s.handleRunPage)
	r.Post("/runs/{id}/cancel", s.handleCancelPage)
	r.Get("/runs/{id}/results.csv", s.handleCSV)
	r.Get("/runs/{id}/results.json", s.handleJSON)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		}))
		r.Get("/questions", s.handleQuestions)
		r.Get("/runs", s.handleListRuns)
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/cancel", s.handleCancelRun)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// start reads the uploaded table and launches a run over it.
func (s *Server) start(w http.ResponseWriter, r *http.Request) (*liveRun, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		return nil, status, eris.Wrap(err, "dashboard: read upload")
	}
	defer file.Close() //nolint:errcheck

	src, err := source.FromReader(header.Filename, file, s.opts.Source)
	if err != nil {
		return nil, statusFor(err), err
	}
	records, err := source.ReadAll(r.Context(), src)
	if err != nil {
		return nil, statusFor(err), err
	}

	lr := newLiveRun(s.newID(), header.Filename, s.opts.Questions, records, s.now())
	ctx, cancel := context.WithCancel(s.ctx)
	lr.cancel = cancel

	s.mu.Lock()
	s.runs[lr.run.ID] = lr
	s.mu.Unlock()

	s.save(lr)
	zap.L().Info("dashboard: run started",
		zap.String("run_id", lr.run.ID),
		zap.String("input", lr.run.Input),
		zap.Int("rows", len(records)),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(lr.stopped)
		defer cancel()

		table, err := s.opts.Run(ctx, records, lr.observe)
		lr.finish(table, err, s.now())
		s.save(lr)

		run, _ := lr.snapshot()
		zap.L().Info("dashboard: run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
		)
	}()
	return lr, http.StatusAccepted, nil
}

func statusFor(err error) int {
	if model.IsInputFormat(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) save(lr *liveRun) {
	run, _ := lr.snapshot()
	if run.Status == model.RunStatusRunning {
		run.Table = nil
	}
	// Saving must finish even when the server is shutting down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 10*time.Second)
	defer cancel()
	if err := s.opts.Store.SaveRun(ctx, &run); err != nil {
		zap.L().Warn("dashboard: save run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Server) live(id string) *liveRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// lookup returns a run with its table, from memory or the store.
func (s *Server) lookup(ctx context.Context, id string) (model.Run, int, error) {
	if lr := s.live(id); lr != nil {
		run, done := lr.snapshot()
		return run, done, nil
	}
	run, err := s.opts.Store.GetRun(ctx, id)
	if err != nil {
		return model.Run{}, 0, err
	}
	done := 0
	if run.Table != nil {
		done = len(run.Table.Results)
	} else {
		run.Table = &model.ResultTable{Questions: s.opts.Questions}
	}
	return *run, done, nil
}

func (s *Server) cancelRun(id string) bool {
	lr := s.live(id)
	if lr == nil {
		return false
	}
	if lr.running() {
		zap.L().Info("dashboard: run cancel requested", zap.String("run_id", id))
		lr.cancel()
	}
	return true
}

// history merges live runs with stored ones, newest first.
func (s *Server) history(ctx context.Context) []runSummary {
	seen := make(map[string]bool)
	var out []runSummary

	s.mu.Lock()
	live := make([]*liveRun, 0, len(s.runs))
	for _, lr := range s.runs {
		live = append(live, lr)
	}
	s.mu.Unlock()

	for _, lr := range live {
		run, done := lr.snapshot()
		seen[run.ID] = true
		out = append(out, summarize(run, done))
	}

	stored, err := s.opts.Store.ListRuns(ctx, store.RunFilter{Limit: s.opts.HistoryLimit})
	if err != nil {
		zap.L().Warn("dashboard: list runs failed", zap.Error(err))
	}
	for _, run := range stored {
		if !seen[run.ID] {
			done := 0
			if run.Status != model.RunStatusRunning {
				done = run.Rows
			}
			out = append(out, summarize(run, done))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type runSummary struct {
	ID        string          `json:"id"`
	Input     string          `json:"input"`
	Status    model.RunStatus `json:"status"`
	Rows      int             `json:"rows"`
	Done      int             `json:"done"`
	CreatedAt time.Time       `json:"created_at"`
}

func summarize(run model.Run, done int) runSummary {
	return runSummary{
		ID:        run.ID,
		Input:     run.Input,
		Status:    run.Status,
		Rows:      run.Rows,
		Done:      done,
		CreatedAt: run.CreatedAt,
	}
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	run, _, err := s.lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.notFound(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", DownloadName))
	if err := present.WriteCSV(w, present.Project(*run.Table)); err != nil {
		zap.L().Warn("dashboard: write csv failed", zap.Error(err))
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	run, _, err := s.lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.notFound(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="website_analysis_results.json"`)
	if err := present.WriteJSON(w, *run.Table); err != nil {
		zap.L().Warn("dashboard: write json failed", zap.Error(err))
	}
}

func (s *Server) notFound(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	zap.L().Error("dashboard: load run failed", zap.Error(err))
	http.Error(w, "could not load run", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("dashboard: encode response failed", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("dashboard: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
