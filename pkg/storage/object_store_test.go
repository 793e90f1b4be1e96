package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type s3Stub struct {
	mu       sync.Mutex
	requests []string
	types    map[string]string
}

func (s *s3Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	if r.Method == http.MethodPut {
		s.types[r.URL.Path] = r.Header.Get("Content-Type")
	}
	s.mu.Unlock()

	switch {
	case r.URL.Query().Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`))
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		w.Header().Set("ETag", `"0f343b0931126a20f133d67c2b018a3b"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (s *s3Stub) saw(req string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r == req {
			return true
		}
	}
	return false
}

func TestMinioObjectsWritesArchiveKeys(t *testing.T) {
	stub := &s3Stub{types: map[string]string{}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	ctx := context.Background()
	objects, err := NewMinioObjects(ctx, MinioConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "postcraft",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	archive := NewCorpusArchive(objects, "corpus")
	key, err := archive.Save(ctx, CorpusSnapshot{
		GenerationID: "gen-9",
		UID:          "uid-9",
		References:   []ArchivedReference{{Source: "text", Text: "직접 입력한 참고 글"}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !stub.saw("PUT /postcraft/" + key) {
		t.Fatalf("no upload for %s, requests = %v", key, stub.requests)
	}
	if got := stub.types["/postcraft/"+key]; got != "application/json" {
		t.Fatalf("content type = %q", got)
	}

	if err := archive.Remove(ctx, "uid-9", "gen-9"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !stub.saw("DELETE /postcraft/" + key) {
		t.Fatalf("no delete for %s, requests = %v", key, stub.requests)
	}
}

func TestNewMinioObjectsRequiresBucket(t *testing.T) {
	if _, err := NewMinioObjects(context.Background(), MinioConfig{Endpoint: "localhost:9000", Bucket: " "}); err == nil {
		t.Fatalf("expected error for blank bucket")
	}
}
