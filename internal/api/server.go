package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"label-analyzer/internal/analysis"
	"label-analyzer/internal/config"
	"label-analyzer/internal/imageprep"
	"label-analyzer/internal/models"
	"label-analyzer/internal/ratelimit"
	"label-analyzer/internal/store"
	"label-analyzer/internal/telemetry"
)

// Server wires the HTTP handlers for label submission and job polling.
type Server struct {
	cfg      config.Config
	store    *store.JobStore
	pipeline *analysis.Pipeline
	limiter  *ratelimit.TokenBucket
	log      *slog.Logger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, st *store.JobStore, pipeline *analysis.Pipeline, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		pipeline: pipeline,
		limiter:  limiter,
		log:      slog.Default(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/api/analyze", s.handleAnalyze)
	r.Get("/api/status", s.handleStatus)
	return r
}

// handleAnalyze accepts a multipart upload, creates the job record, and
// detaches the pipeline. The response carries only the job id; the caller
// never blocks on analysis.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			s.log.Warn("rate limiter unavailable, allowing request", "error", err)
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "too many submissions, slow down")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read image upload")
		return
	}

	prepared, mimeType, err := imageprep.Prepare(data, s.cfg.ImageMaxDimension)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported or corrupt image")
		return
	}

	id := uuid.New().String()
	if err := s.store.CreateJob(r.Context(), id); err != nil {
		s.log.Error("job creation failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create analysis job")
		return
	}
	if err := s.store.UpdateJob(r.Context(), id, store.JobUpdate{Status: models.StatusProcessing}); err != nil {
		s.log.Error("job status update failed", "job_id", id, "error", err)
	}
	telemetry.JobsSubmitted.Inc()

	go s.runAnalysis(id, prepared, mimeType)

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

// runAnalysis is the detached per-job task. Nothing listens for its return,
// so every outcome, including a panic, is written into the job record.
func (s *Server) runAnalysis(id string, image []byte, mimeType string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AnalysisTimeout)
	defer cancel()

	telemetry.JobsInFlight.Inc()
	defer telemetry.JobsInFlight.Dec()

	defer func() {
		if p := recover(); p != nil {
			s.log.Error("analysis pipeline panicked", "job_id", id, "panic", p)
			s.failJob(ctx, id, fmt.Sprintf("internal error: %v", p))
		}
	}()

	result, err := s.pipeline.AnalyzeImage(ctx, image, mimeType)
	if err != nil {
		s.log.Error("analysis failed",
			"job_id", id,
			"kind", string(analysis.KindOf(err)),
			"error", err,
		)
		s.failJob(ctx, id, err.Error())
		return
	}

	if err := s.store.UpdateJob(ctx, id, store.JobUpdate{
		Status: models.StatusCompleted,
		Result: &result,
	}); err != nil {
		s.log.Error("could not record analysis result", "job_id", id, "error", err)
		return
	}
	telemetry.JobsCompleted.Inc()
	s.log.Info("analysis completed", "job_id", id, "ingredients", len(result.Ingredients))
}

func (s *Server) failJob(ctx context.Context, id, msg string) {
	if err := s.store.UpdateJob(ctx, id, store.JobUpdate{
		Status: models.StatusFailed,
		Error:  msg,
	}); err != nil {
		s.log.Error("could not record analysis failure", "job_id", id, "error", err)
		return
	}
	telemetry.JobsFailed.Inc()
}

// handleStatus returns the job record verbatim. A store read error degrades
// to not-found so the poller gets a terminal answer either way.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("jobId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.log.Error("job lookup failed", "job_id", id, "error", err)
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func clientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if i := strings.IndexByte(v, ','); i >= 0 {
			return strings.TrimSpace(v[:i])
		}
		return strings.TrimSpace(v)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
