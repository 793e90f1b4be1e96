package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithSecurityHeaders(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"generationId":"gen-1"}`))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGenerationResponsesAreNotCacheable(t *testing.T) {
	rec := serveWithSecurityHeaders(t, httptest.NewRequest(http.MethodGet, "/api/generations/gen-1", nil))

	want := map[string]string{
		"Cache-Control":          "no-store",
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for name, value := range want {
		if got := rec.Header().Get(name); got != value {
			t.Fatalf("%s = %q, want %q", name, got, value)
		}
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("plain http request got HSTS %q", got)
	}
}

func TestHSTSFollowsFirstForwardedProto(t *testing.T) {
	cases := []struct {
		proto string
		hsts  bool
	}{
		{"https", true},
		{"HTTPS", true},
		{"https, http", true},
		{"http, https", false},
		{"", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
		if tc.proto != "" {
			req.Header.Set("X-Forwarded-Proto", tc.proto)
		}
		rec := serveWithSecurityHeaders(t, req)
		if got := rec.Header().Get("Strict-Transport-Security") != ""; got != tc.hsts {
			t.Fatalf("proto %q: hsts=%v want %v", tc.proto, got, tc.hsts)
		}
	}
}
