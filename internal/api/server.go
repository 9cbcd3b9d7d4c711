// Package api exposes the HTTP interface for the analysis service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Dean-Rough/xray2/internal/analysis"
	"github.com/Dean-Rough/xray2/internal/config"
	"github.com/Dean-Rough/xray2/internal/metrics"
	"github.com/Dean-Rough/xray2/internal/pipeline"

	"go.uber.org/zap"
)

// Server wires HTTP handlers to the pipeline runner and stores.
type Server struct {
	router chi.Router
	store  analysis.Store
	runner *pipeline.Runner
	blobs  analysis.BlobStore
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store analysis.Store,
	runner *pipeline.Runner,
	blobs analysis.BlobStore,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		runner: runner,
		blobs:  blobs,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	timeout := 60 * time.Second
	if cfg.Server.RequestTimeout > 0 {
		timeout = time.Duration(cfg.Server.RequestTimeout) * time.Second
	}
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", s.startAnalysis)
			r.Get("/", s.listAnalyses)
			r.Route("/{analysis_id}", func(r chi.Router) {
				r.Get("/", s.getAnalysis)
				r.Post("/resume", s.resumeAnalysis)
				r.Get("/download", s.downloadPackage)
				r.Delete("/", s.deleteAnalysis)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListByStatus(r.Context(), []analysis.Status{analysis.StatusPending}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type startRequest struct {
	URL     string           `json:"url"`
	Options analysis.Options `json:"options"`
}

// startAnalysis registers a new analysis and kicks off the pipeline in the
// background. The response carries the ID for polling.
func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	a, err := s.runner.Create(r.Context(), req.URL, req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	go s.runDetached(a.ID, false)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"analysis_id": a.ID,
		"status":      string(a.Status),
	}, s.logger)
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "analysis_id")
	a, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "analysis not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, presentAnalysis(a), s.logger)
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	var statuses []analysis.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = append(statuses, analysis.Status(raw))
	}
	list, err := s.store.ListByStatus(r.Context(), statuses)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list analyses", s.logger)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, a := range list {
		out = append(out, presentAnalysis(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": out}, s.logger)
}

// resumeAnalysis validates the resume request synchronously and re-enters the
// pipeline in the background.
func (s *Server) resumeAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "analysis_id")
	a, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Resume failed: analysis not found", s.logger)
		return
	}
	if !a.Status.Resumable() {
		writeError(w, http.StatusConflict, "Resume failed: analysis already completed", s.logger)
		return
	}
	if s.runner.Running(id) {
		writeError(w, http.StatusConflict, "Resume failed: analysis is already running", s.logger)
		return
	}
	go s.runDetached(id, true)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"analysis_id": id,
		"status":      string(a.Status),
	}, s.logger)
}

// downloadPackage streams the assembled zip for a completed analysis.
func (s *Server) downloadPackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "analysis_id")
	a, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "analysis not found", s.logger)
		return
	}
	if a.Status != analysis.StatusCompleted || a.Result.Package == nil {
		writeError(w, http.StatusConflict, "analysis has no package yet", s.logger)
		return
	}
	data, err := s.blobs.GetObject(r.Context(), path.Join("packages", a.Result.Package.Name))
	if err != nil {
		s.logger.Error("fetch package blob", zap.String("analysis_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch package", s.logger)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Result.Package.Name+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("stream package", zap.Error(err))
	}
}

func (s *Server) deleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "analysis_id")
	if s.runner.Running(id) {
		writeError(w, http.StatusConflict, "analysis is running", s.logger)
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "analysis not found", s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runDetached executes the pipeline outside the request lifecycle. Errors are
// already checkpointed by the runner; they are logged here for operators.
func (s *Server) runDetached(id string, resume bool) {
	ctx := context.Background()
	var err error
	if resume {
		_, err = s.runner.Resume(ctx, id)
	} else {
		_, err = s.runner.Run(ctx, id)
	}
	if err != nil && !errors.Is(err, analysis.ErrAlreadyRunning) {
		s.logger.Warn("background run finished with error",
			zap.String("analysis_id", id),
			zap.Bool("resume", resume),
			zap.Error(err),
		)
	}
}

// presentAnalysis shapes an analysis for API responses, decoding the stored
// structured error when present.
func presentAnalysis(a analysis.Analysis) map[string]any {
	out := map[string]any{
		"analysis_id":     a.ID,
		"url":             a.URL,
		"status":          a.Status,
		"options":         a.Options,
		"processing_time": a.ProcessingTime,
		"created_at":      a.CreatedAt,
		"updated_at":      a.UpdatedAt,
	}
	if a.Status == analysis.StatusCompleted {
		out["result"] = a.Result
	} else if a.Result.SiteMap != nil {
		out["pages_discovered"] = a.Result.SiteMap.TotalPages
	}
	if a.Error != "" {
		var desc map[string]any
		if err := json.Unmarshal([]byte(a.Error), &desc); err == nil {
			out["error"] = desc
		} else {
			out["error"] = a.Error
		}
	}
	return out
}
