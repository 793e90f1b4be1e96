package util

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveRequestID(t *testing.T, incoming string, inner http.HandlerFunc) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
	if incoming != "" {
		req.Header.Set("X-Request-Id", incoming)
	}
	rec := httptest.NewRecorder()
	WithRequestID(inner).ServeHTTP(rec, req)
	return rec.Header().Get("X-Request-Id")
}

func TestRequestIDKeepsWellFormedIncomingID(t *testing.T) {
	const incoming = "gw-7f3a.retry_2"
	var seen string
	got := serveRequestID(t, incoming, func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	})
	if got != incoming || seen != incoming {
		t.Fatalf("header=%q context=%q, want %q", got, seen, incoming)
	}
}

func TestRequestIDReplacesUnsafeIncomingID(t *testing.T) {
	for _, incoming := range []string{
		"",
		"id with spaces",
		"line\nbreak",
		strings.Repeat("a", maxRequestIDLength+1),
	} {
		var seen string
		got := serveRequestID(t, incoming, func(_ http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromRequest(r)
		})
		if got == "" || got == incoming || got != seen {
			t.Fatalf("incoming %q: header=%q context=%q", incoming, got, seen)
		}
	}
}

func TestRequestIDTagsContextLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	serveRequestID(t, "req-42", func(_ http.ResponseWriter, r *http.Request) {
		LoggerFromContext(r.Context()).Info("generation requested")
	})
	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Fatalf("log line missing request id: %s", buf.String())
	}
}
