package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// ArchivedReference is one resolved reference text kept for auditing.
type ArchivedReference struct {
	URL    string `json:"url,omitempty"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// CorpusSnapshot is the reference corpus a generation was written from.
type CorpusSnapshot struct {
	GenerationID string              `json:"generationId"`
	UID          string              `json:"uid"`
	References   []ArchivedReference `json:"references"`
	ArchivedAt   time.Time           `json:"archivedAt"`
}

// CorpusArchive stores reference corpora next to generation records.
type CorpusArchive struct {
	store  Objects
	prefix string
}

func NewCorpusArchive(store Objects, prefix string) *CorpusArchive {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "corpus"
	}
	return &CorpusArchive{store: store, prefix: prefix}
}

// Key returns the object key of a generation's corpus.
func (a *CorpusArchive) Key(uid, generationID string) string {
	return path.Join(a.prefix, uid, generationID+".json")
}

// Save writes snap and returns its key. Empty corpora are skipped.
func (a *CorpusArchive) Save(ctx context.Context, snap CorpusSnapshot) (string, error) {
	if len(snap.References) == 0 {
		return "", nil
	}
	if snap.ArchivedAt.IsZero() {
		snap.ArchivedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode corpus: %w", err)
	}
	key := a.Key(snap.UID, snap.GenerationID)
	if err := a.store.PutObject(ctx, key, data, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// Remove deletes the corpus of a generation.
func (a *CorpusArchive) Remove(ctx context.Context, uid, generationID string) error {
	return a.store.RemoveObject(ctx, a.Key(uid, generationID))
}
