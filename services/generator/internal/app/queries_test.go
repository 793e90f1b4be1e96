package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"postcraft/pkg/domain"
	"postcraft/pkg/store"
)

func seedGeneration(t *testing.T, s store.Store, id, uid string, status domain.GenerationStatus, createdAt time.Time) {
	t.Helper()
	g := domain.Generation{ID: id, UID: uid, Input: validInput(), Status: status, CreatedAt: createdAt, UpdatedAt: createdAt}
	if err := s.SaveGeneration(context.Background(), g); err != nil {
		t.Fatalf("seed generation: %v", err)
	}
}

func TestListGenerationsPages(t *testing.T) {
	s := store.NewMemoryStore()
	a := newTestApp(t, s, &stubStages{}, nil)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedGeneration(t, s, fmt.Sprintf("gen-%d", i), "uid-1", domain.StatusSuccess, base.Add(time.Duration(i)*time.Minute))
	}
	seedGeneration(t, s, "other", "uid-2", domain.StatusSuccess, base)
	ctx := context.Background()

	first, err := a.ListGenerations(ctx, "uid-1", 2, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "gen-2" || first.Items[1].ID != "gen-1" || first.NextCursor == "" {
		t.Fatalf("first page = %+v", first)
	}
	second, err := a.ListGenerations(ctx, "uid-1", 2, first.NextCursor)
	if err != nil {
		t.Fatalf("list second: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "gen-0" || second.NextCursor != "" {
		t.Fatalf("second page = %+v", second)
	}

	if _, err := a.ListGenerations(ctx, "uid-1", 0, "garbage"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad cursor, got %v", err)
	}
	empty, err := a.ListGenerations(ctx, "nobody", 500, "")
	if err != nil || empty.Items == nil || len(empty.Items) != 0 {
		t.Fatalf("empty page = %+v err=%v", empty, err)
	}
}

func TestGetGenerationOwnershipAndReadRepair(t *testing.T) {
	s := store.NewMemoryStore()
	a := newTestApp(t, s, &stubStages{}, nil)
	ctx := context.Background()
	seedGeneration(t, s, "gen-1", "uid-1", domain.StatusSuccess, time.Now().UTC())
	s.DropGenerationIndex("gen-1")

	if _, err := a.GetGeneration(ctx, "uid-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := a.GetGeneration(ctx, "uid-2", "gen-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	g, err := a.GetGeneration(ctx, "uid-1", "gen-1")
	if err != nil || g.ID != "gen-1" {
		t.Fatalf("get: %+v err=%v", g, err)
	}
	if _, ok, _ := s.GetGenerationIndex(ctx, "gen-1"); !ok {
		t.Fatalf("index entry not repaired")
	}
}

func TestGetGenerationRepairsStaleIndex(t *testing.T) {
	s := store.NewMemoryStore()
	a := newTestApp(t, s, &stubStages{}, nil)
	ctx := context.Background()
	created := time.Now().UTC()
	g := domain.Generation{ID: "gen-2", UID: "uid-1", Input: validInput(), Status: domain.StatusFailed,
		Stage: domain.StageDraft, Error: failureMessage(domain.StageDraft), CreatedAt: created, UpdatedAt: created}
	if err := s.SaveGeneration(ctx, g); err != nil {
		t.Fatalf("seed: %v", err)
	}
	lagging := domain.IndexOf(g)
	lagging.Status, lagging.Stage, lagging.Error = domain.StatusPending, "", ""
	if err := s.SaveGenerationIndex(ctx, lagging); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	if _, err := a.GetGeneration(ctx, "uid-1", "gen-2"); err != nil {
		t.Fatalf("get: %v", err)
	}
	idx, ok, _ := s.GetGenerationIndex(ctx, "gen-2")
	if !ok || idx.Status != domain.StatusFailed || idx.Stage != domain.StageDraft || idx.Error != g.Error {
		t.Fatalf("index = %+v", idx)
	}
	page, err := a.ListGenerations(ctx, "uid-1", 10, "")
	if err != nil || len(page.Items) != 1 || page.Items[0].Status != domain.StatusFailed {
		t.Fatalf("history = %+v err=%v", page, err)
	}
}

func TestDeleteGeneration(t *testing.T) {
	s := store.NewMemoryStore()
	a := newTestApp(t, s, &stubStages{}, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	seedGeneration(t, s, "gen-done", "uid-1", domain.StatusSuccess, now)
	seedGeneration(t, s, "gen-running", "uid-1", domain.StatusPending, now)

	if err := a.DeleteGeneration(ctx, "uid-2", "gen-done"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := a.DeleteGeneration(ctx, "uid-1", "gen-running"); !errors.Is(err, ErrGenerationPending) {
		t.Fatalf("expected ErrGenerationPending, got %v", err)
	}
	if err := a.DeleteGeneration(ctx, "uid-1", "gen-done"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetGeneration(ctx, "gen-done"); ok {
		t.Fatalf("record still present")
	}
	if _, ok, _ := s.GetGenerationIndex(ctx, "gen-done"); ok {
		t.Fatalf("index still present")
	}
	if err := a.DeleteGeneration(ctx, "uid-1", "gen-done"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStyleProfileRequiresReferences(t *testing.T) {
	stages := &stubStages{}
	s := store.NewMemoryStore()
	a := newTestApp(t, s, stages, nil)
	ctx := context.Background()

	if _, err := a.StyleProfile(ctx, []string{" "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	profile, err := a.StyleProfile(ctx, []string{"참고 글"})
	if err != nil || profile.Tone == "" {
		t.Fatalf("profile=%+v err=%v", profile, err)
	}
	if _, ok, _ := s.GetAccount(ctx, caller.UID); ok {
		t.Fatalf("style profile must not touch credits")
	}
}

func TestAccountReadOrCreate(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore(), &stubStages{}, nil)
	acct, err := a.Account(context.Background(), caller)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.Credits != 1 || acct.FreeTrialUsed || acct.Plan != domain.DefaultPlan || acct.Email != caller.Email {
		t.Fatalf("account = %+v", acct)
	}
}
