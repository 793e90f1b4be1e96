package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"postcraft/internal/ratelimit"
	"postcraft/internal/usertoken"
	"postcraft/internal/util"
	"postcraft/pkg/domain"
	"postcraft/services/generator/internal/app"
)

const maxBodyBytes = 1 << 20

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (usertoken.Caller, error)
}

// Limiter admits or throttles a key.
type Limiter interface {
	Check(ctx context.Context, key string) ratelimit.Decision
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Auth           Authenticator
	Limiter        Limiter
	AllowedOrigins []string
	// TrustedProxies decides whether forwarding headers name the client.
	TrustedProxies *util.TrustedProxies
	Metrics        *Metrics
	Gatherer       prometheus.Gatherer
}

// Server exposes the generation API.
type Server struct {
	app      *app.App
	auth     Authenticator
	limiter  Limiter
	origins  []string
	proxies  *util.TrustedProxies
	metrics  *Metrics
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:      cfg.App,
		auth:     cfg.Auth,
		limiter:  cfg.Limiter,
		origins:  cfg.AllowedOrigins,
		proxies:  cfg.TrustedProxies,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("generator", util.WithSecurityHeaders(util.WithCORS(s.origins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.mux.Handle("/api/generate", s.authenticated(s.handleGenerate))
	s.mux.Handle("/api/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/generations", s.authenticated(s.handleGenerations))
	s.mux.Handle("/api/generations/", s.authenticated(s.handleGenerationByID))
	s.mux.Handle("/api/style-profile", s.authenticated(s.handleStyleProfile))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, usertoken.Caller)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.auth.Authenticate(r)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, usertoken.ErrMissingToken) {
				reason = "missing_token"
			}
			s.audit(r, "generator.authorize", "fail", "reason", reason)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		r = r.WithContext(util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("uid", caller.UID)))
		next(w, r, caller)
	})
}

// allowRate applies the per-user fixed window.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, caller usertoken.Caller) bool {
	if s.limiter == nil {
		return true
	}
	decision := s.limiter.Check(r.Context(), caller.UID)
	if decision.Allowed {
		return true
	}
	s.audit(r, "generator.ratelimit", "fail", "uid", caller.UID)
	s.metrics.countThrottled("rate_limit")
	writeRetryAfter(w, decision.RetryAfter, "rate limit exceeded")
	return false
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, caller usertoken.Caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, caller) {
		return
	}
	var in domain.GenerateInput
	if err := decodeJSON(r, &in); err != nil {
		s.metrics.observeGeneration("unknown", "rejected", 0)
		writeError(w, http.StatusBadRequest, "invalid input")
		return
	}
	platform := string(in.Platform)
	start := time.Now()

	res, err := s.app.Generate(r.Context(), caller, in)
	if err != nil {
		s.writeGenerateError(w, r, platform, err, time.Since(start))
		return
	}
	s.metrics.observeGeneration(platform, "success", time.Since(start))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeGenerateError(w http.ResponseWriter, r *http.Request, platform string, err error, took time.Duration) {
	var failure *app.GenerationFailedError
	var retry *app.RetryAfterError
	switch {
	case errors.As(err, &failure):
		s.metrics.observeGeneration(platform, "failed", took)
		status := http.StatusBadGateway
		if failure.Stage == domain.StagePersist || failure.Stage == domain.StageInternal || failure.Stage == domain.StageInterrupted {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{
			"error":        "generation failed",
			"generationId": failure.GenerationID,
			"stage":        failure.Stage,
			"refunded":     failure.Refunded,
		})
	case errors.As(err, &retry):
		s.metrics.countThrottled("cooldown")
		s.audit(r, "generator.cooldown", "fail")
		writeRetryAfter(w, retry.After, "rate limit exceeded")
	default:
		s.metrics.observeGeneration(platform, "rejected", took)
		s.writeAppError(w, r, err)
	}
}

// writeAppError maps app sentinels to statuses. Internal detail never
// reaches the body.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrGenerationPending):
		writeError(w, http.StatusConflict, "generation still pending")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, caller usertoken.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	acct, err := s.app.Account(r.Context(), caller)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request, caller usertoken.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	page, err := s.app.ListGenerations(r.Context(), caller.UID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGenerationByID(w http.ResponseWriter, r *http.Request, caller usertoken.Caller) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/generations/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		g, err := s.app.GetGeneration(r.Context(), caller.UID, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	case http.MethodDelete:
		if err := s.app.DeleteGeneration(r.Context(), caller.UID, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

type styleProfileRequest struct {
	References []string `json:"references"`
}

func (s *Server) handleStyleProfile(w http.ResponseWriter, r *http.Request, caller usertoken.Caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, caller) {
		return
	}
	var req styleProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid input")
		return
	}
	profile, err := s.app.StyleProfile(r.Context(), req.References)
	if err != nil {
		var failure *app.GenerationFailedError
		if errors.As(err, &failure) {
			util.LoggerFromContext(r.Context()).Warn("style profile failed", "err", err)
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "style analysis failed", "stage": failure.Stage})
			return
		}
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"styleProfile": profile})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeRetryAfter(w http.ResponseWriter, after time.Duration, msg string) {
	secs := int(math.Ceil(after.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, msg)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.proxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}
