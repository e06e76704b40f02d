package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/config"
	"github.com/JakeFAU/profile-feedback/internal/datastore/row"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/logging"
	"github.com/JakeFAU/profile-feedback/internal/metrics"
	"github.com/JakeFAU/profile-feedback/internal/ratelimit"
	"github.com/JakeFAU/profile-feedback/internal/session"
)

const (
	// ClientIDHeader names the caller's session.
	ClientIDHeader = "X-Client-ID"
	// DefaultClientID is used when the header is absent.
	DefaultClientID = "default"

	maxClientIDLength = 128
	maxBodyBytes      = 1 << 20
)

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the session registry.
type Server struct {
	router   chi.Router
	sessions *session.Registry
	ready    ReadyFunc
	limiter  *ratelimit.Limiter
	timeout  time.Duration
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(sessions *session.Registry, ready ReadyFunc, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		ready:    ready,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Server.RateLimitRPS,
			Burst: cfg.Server.RateLimitBurst,
		}),
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s.timeout = timeout

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/analyses", func(r chi.Router) {
			r.With(s.rateLimitMiddleware).Post("/", s.createAnalysis)
			r.Get("/", s.getAnalysis)
			r.Delete("/", s.deleteAnalysis)
			r.With(s.rateLimitMiddleware).Post("/retry", s.retryAnalysis)
		})
		r.With(s.rateLimitMiddleware).Post("/results", s.deliverResults)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			logging.FromContext(r.Context(), s.logger).Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type analysisRequest struct {
	URL   string  `json:"url"`
	Email *string `json:"email"`
}

func (s *Server) createAnalysis(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return
	}
	var req analysisRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	profileURL := strings.TrimSpace(req.URL)
	if err := validateProfileURL(profileURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var email *string
	if req.Email != nil && strings.TrimSpace(*req.Email) != "" {
		v := strings.TrimSpace(*req.Email)
		email = &v
	}

	orch, err := s.sessions.Open(context.WithoutCancel(r.Context()), clientID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrRegistryClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	orch.SetURL(profileURL, email)
	logging.FromContext(r.Context(), s.logger).Info("analysis requested",
		zap.String("client_id", clientID), zap.String("url", profileURL))
	writeJSON(w, http.StatusAccepted, orch.Status())
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return
	}
	wait, err := s.waitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orch, ok := s.sessions.Get(clientID)
	if !ok {
		writeError(w, http.StatusNotFound, "no analysis for client")
		return
	}
	if wait <= 0 {
		writeJSON(w, http.StatusOK, orch.Status())
		return
	}
	writeJSON(w, http.StatusOK, waitForChange(r.Context(), orch, wait))
}

func (s *Server) retryAnalysis(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return
	}
	orch, ok := s.sessions.Get(clientID)
	if !ok {
		writeError(w, http.StatusNotFound, "no analysis for client")
		return
	}
	if !orch.Retry() {
		writeError(w, http.StatusConflict, "nothing to retry")
		return
	}
	writeJSON(w, http.StatusAccepted, orch.Status())
}

func (s *Server) deleteAnalysis(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return
	}
	if !s.sessions.Remove(clientID) {
		writeError(w, http.StatusNotFound, "no analysis for client")
		return
	}
	s.limiter.Forget(clientID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deliverResults(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	parsed := gjson.ParseBytes(body)
	rec, invalid, err := row.Decode(parsed)
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected a JSON object")
		return
	}
	if len(invalid) > 0 {
		names := make([]string, 0, len(invalid))
		for _, sec := range invalid {
			names = append(names, sec.ScoreColumn())
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("scores must be numbers between %g and %g: %s",
			feedback.MinScore, feedback.MaxScore, strings.Join(names, ", ")))
		return
	}
	if u := parsed.Get("url").String(); u != "" {
		rec.URL = u
	}
	if rec.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	orch, ok := s.sessions.Get(clientID)
	if !ok {
		writeError(w, http.StatusNotFound, "no analysis for client")
		return
	}
	if !orch.Deliver(rec.URL, rec) {
		writeError(w, http.StatusConflict, "url is not the current analysis")
		return
	}
	writeJSON(w, http.StatusAccepted, orch.Status())
}

func (s *Server) waitParam(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return 0, nil
	}
	wait, err := time.ParseDuration(raw)
	if err != nil || wait < 0 {
		return 0, fmt.Errorf("wait must be a non-negative duration such as 10s")
	}
	if limit := s.maxWait(); wait > limit {
		wait = limit
	}
	return wait, nil
}

// maxWait bounds long polls so they answer before the request timeout fires.
func (s *Server) maxWait() time.Duration {
	if limit := s.cfg.Server.MaxWait; limit > 0 {
		return limit
	}
	return s.timeout - s.timeout/10
}

// waitForChange blocks until the status differs from the one current on entry.
func waitForChange(ctx context.Context, orch *session.Orchestrator, wait time.Duration) feedback.Status {
	updates, cancel := orch.Subscribe()
	defer cancel()
	current := orch.Status()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case st, ok := <-updates:
			if !ok {
				return orch.Status()
			}
			if !sameStatus(current, st) {
				return st
			}
		case <-timer.C:
			return orch.Status()
		case <-ctx.Done():
			return orch.Status()
		}
	}
}

func sameStatus(a, b feedback.Status) bool {
	if a.URL != b.URL || a.View != b.View || a.IsLoading != b.IsLoading || a.IsError != b.IsError ||
		a.DataReceived != b.DataReceived || a.RetryCount != b.RetryCount || a.Message != b.Message {
		return false
	}
	if (a.EndpointStatus == nil) != (b.EndpointStatus == nil) {
		return false
	}
	return a.EndpointStatus == nil || *a.EndpointStatus == *b.EndpointStatus
}

func validateProfileURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("url must be an absolute http(s) URL")
	}
	return nil
}

func clientIDFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(ClientIDHeader))
	if id == "" {
		return DefaultClientID, true
	}
	if len(id) > maxClientIDLength {
		writeError(w, http.StatusBadRequest, "client id too long")
		return "", false
	}
	return id, true
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := logging.WithContext(r.Context(), s.logger.With(zap.String("request_id", reqID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context(), s.logger).Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(r.Context(), s.logger).Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware throttles write requests per client ID.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := clientIDFrom(w, r)
		if !ok {
			return
		}
		if !s.limiter.Allow(clientID) {
			metrics.ObserveRateLimited(chi.RouteContext(r.Context()).RoutePattern())
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

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
