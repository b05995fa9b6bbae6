package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/crawler"
	"github.com/JakeFAU/politefetch/internal/pipeline"
)

const (
	defaultRunTimeout = 10 * time.Minute
	probeTimeout      = 30 * time.Second
	maxRunBodyBytes   = 8 << 20
)

// Runner executes one crawl pass.
type Runner interface {
	Run(ctx context.Context, records []crawler.URLRecord) (pipeline.RunReport, error)
}

// Options wires the Server's collaborators. Runner is required.
type Options struct {
	Runner Runner
	// Statuses backs GET /v1/runs/{run_id}/statuses. Nil answers 503.
	Statuses StatusReader
	// Metrics serves GET /metrics. Nil answers 404.
	Metrics http.Handler
	// Instrument wraps every route, typically metrics.Recorder.Middleware.
	Instrument func(http.Handler) http.Handler
	RunTimeout time.Duration
	Logger     *zap.Logger
}

// Server wires HTTP handlers to the pipeline and status store.
type Server struct {
	router     chi.Router
	runner     Runner
	runTimeout time.Duration
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("runner is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:     opts.Runner,
		runTimeout: opts.RunTimeout,
		logger:     logger,
	}
	if s.runTimeout <= 0 {
		s.runTimeout = defaultRunTimeout
	}
	statuses := NewStatusHandler(opts.Statuses, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	if opts.Instrument != nil {
		r.Use(opts.Instrument)
	}
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(probeTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		if opts.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", opts.Metrics)
		}
		r.Get("/v1/runs/{run_id}/statuses", statuses.ListStatuses)
	})
	r.Post("/v1/runs", s.submitRun)

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runRequest struct {
	URLs    []string            `json:"urls"`
	Records []crawler.URLRecord `json:"records"`
}

type runResponse struct {
	RunID       string                    `json:"run_id"`
	StartedAt   time.Time                 `json:"started_at"`
	FinishedAt  time.Time                 `json:"finished_at"`
	Counts      map[crawler.URLStatus]int `json:"counts"`
	Statuses    []crawler.StatusRecord    `json:"statuses"`
	ContentURIs map[string]string         `json:"content_uris,omitempty"`
	SinkError   string                    `json:"sink_error,omitempty"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRunBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	records, err := toRecords(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()
	report, err := s.runner.Run(ctx, records)
	if err != nil && report.RunID == "" {
		s.logger.Error("run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run failed")
		return
	}
	resp := runResponse{
		RunID:       report.RunID,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Counts:      report.Counts,
		Statuses:    report.Output.Statuses,
		ContentURIs: report.ContentURIs,
	}
	if err != nil {
		s.logger.Warn("run finished with sink errors", zap.String("run_id", report.RunID), zap.Error(err))
		resp.SinkError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func toRecords(req runRequest) ([]crawler.URLRecord, error) {
	records := make([]crawler.URLRecord, 0, len(req.URLs)+len(req.Records))
	for _, u := range req.URLs {
		if strings.TrimSpace(u) == "" {
			return nil, errors.New("urls must not contain empty entries")
		}
		records = append(records, crawler.URLRecord{URL: strings.TrimSpace(u)})
	}
	for _, rec := range req.Records {
		if strings.TrimSpace(rec.URL) == "" {
			return nil, errors.New("records must carry a url")
		}
		if rec.LastStatus != "" && !rec.LastStatus.Valid() {
			return nil, fmt.Errorf("unknown last_status %q", rec.LastStatus)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, errors.New("urls or records required")
	}
	return records, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("request_id", requestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
