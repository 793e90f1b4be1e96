package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"postcraft/internal/util"
	"postcraft/pkg/extract"
)

// Extractor loads a page and returns its best text.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (string, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Extractor     Extractor
	APIKey        string
	APIKeyHeader  string
	MinTextLength int
	Gatherer      prometheus.Gatherer
}

// Server exposes the extraction endpoint.
type Server struct {
	extractor     Extractor
	apiKey        string
	apiKeyHeader  string
	minTextLength int
	gatherer      prometheus.Gatherer
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	header := strings.TrimSpace(cfg.APIKeyHeader)
	if header == "" {
		header = "X-Crawler-Key"
	}
	minLen := cfg.MinTextLength
	if minLen <= 0 {
		minLen = extract.DefaultMinTextLength
	}
	s := &Server{
		extractor:     cfg.Extractor,
		apiKey:        cfg.APIKey,
		apiKeyHeader:  header,
		minTextLength: minLen,
		gatherer:      cfg.Gatherer,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("crawler", util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/extract", s.requireKey(http.HandlerFunc(s.handleExtract)))
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// requireKey enforces the shared secret. An empty secret disables the check.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(s.apiKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			s.audit(r, "crawler.key", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type extractRequest struct {
	URL any `json:"url"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req extractRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 2<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rawURL, ok := req.URL.(string)
	if !ok || !validTarget(rawURL) {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	logger := util.LoggerFromContext(r.Context())

	text, err := s.extractor.Extract(r.Context(), rawURL)
	if err != nil {
		logger.Warn("extract failed", "url", rawURL, "err", err)
		writeError(w, http.StatusInternalServerError, "extract failed")
		return
	}
	if extract.Length(text) < s.minTextLength {
		logger.Info("extract too short", "url", rawURL, "chars", extract.Length(text))
		writeError(w, http.StatusUnprocessableEntity, "content too short")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func validTarget(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
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
		"ip", util.ClientIP(r, nil),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}
