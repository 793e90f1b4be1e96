package storage

import (
	"context"
	"encoding/json"
	"testing"
)

type memoryObjects struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryObjects) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return nil
}

func (m *memoryObjects) RemoveObject(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestCorpusArchiveSaveAndRemove(t *testing.T) {
	objects := newMemoryObjects()
	archive := NewCorpusArchive(objects, "/refs/")
	ctx := context.Background()

	key, err := archive.Save(ctx, CorpusSnapshot{
		GenerationID: "gen-1",
		UID:          "uid-1",
		References:   []ArchivedReference{{URL: "https://a.example", Source: "html", Text: "본문"}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if key != "refs/uid-1/gen-1.json" {
		t.Fatalf("key = %q", key)
	}
	if objects.types[key] != "application/json" {
		t.Fatalf("content type = %q", objects.types[key])
	}
	var snap CorpusSnapshot
	if err := json.Unmarshal(objects.objects[key], &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ArchivedAt.IsZero() || len(snap.References) != 1 || snap.References[0].Text != "본문" {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := archive.Remove(ctx, "uid-1", "gen-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := objects.objects[key]; ok {
		t.Fatalf("object not removed")
	}
}

func TestCorpusArchiveSkipsEmptyCorpus(t *testing.T) {
	objects := newMemoryObjects()
	key, err := NewCorpusArchive(objects, "").Save(context.Background(), CorpusSnapshot{GenerationID: "g", UID: "u"})
	if err != nil || key != "" || len(objects.objects) != 0 {
		t.Fatalf("key=%q err=%v objects=%d", key, err, len(objects.objects))
	}
}
