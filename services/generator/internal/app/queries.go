package app

import (
	"context"
	"fmt"
	"strings"

	"postcraft/internal/usertoken"
	"postcraft/pkg/domain"
	"postcraft/pkg/store"
	"postcraft/services/generator/internal/pipeline"
)

// Account returns the caller's account, creating it on first sight.
func (a *App) Account(ctx context.Context, caller usertoken.Caller) (domain.Account, error) {
	acct, err := a.ledger.Account(ctx, caller.UID, caller.Email)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return acct, nil
}

// GenerationPage is one page of the per-user history.
type GenerationPage struct {
	Items      []domain.GenerationIndex `json:"items"`
	NextCursor string                   `json:"nextCursor,omitempty"`
}

// ListGenerations pages through uid's history, newest first.
func (a *App) ListGenerations(ctx context.Context, uid string, limit int, cursor string) (GenerationPage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var after *store.Cursor
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		c, err := store.ParseCursor(cursor)
		if err != nil {
			return GenerationPage{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		after = &c
	}
	items, err := a.store.ListGenerations(ctx, uid, after, limit+1)
	if err != nil {
		return GenerationPage{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	page := GenerationPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = store.CursorAfter(page.Items[limit-1]).String()
	}
	if page.Items == nil {
		page.Items = []domain.GenerationIndex{}
	}
	return page, nil
}

// GetGeneration returns the full record of id when uid owns it. An index entry
// that is missing or disagrees with the record is rewritten from the record.
func (a *App) GetGeneration(ctx context.Context, uid, id string) (domain.Generation, error) {
	g, err := a.owned(ctx, uid, id)
	if err != nil {
		return domain.Generation{}, err
	}
	want := domain.IndexOf(g)
	idx, ok, err := a.store.GetGenerationIndex(ctx, id)
	if err != nil {
		a.logger.Warn("index lookup failed", "generation_id", id, "err", err)
		return g, nil
	}
	if ok && !indexStale(idx, want) {
		return g, nil
	}
	if err := a.store.SaveGenerationIndex(ctx, want); err != nil {
		a.logger.Warn("index read-repair failed", "generation_id", id, "err", err)
	} else {
		a.logger.Info("index entry repaired", "generation_id", id, "missing", !ok)
	}
	return g, nil
}

// indexStale reports whether the outcome fields of the index lag the record.
func indexStale(idx, want domain.GenerationIndex) bool {
	return idx.Status != want.Status || idx.Stage != want.Stage ||
		idx.Error != want.Error || idx.TitleCandidate != want.TitleCandidate
}

// DeleteGeneration removes both projections of id.
func (a *App) DeleteGeneration(ctx context.Context, uid, id string) error {
	g, err := a.owned(ctx, uid, id)
	if err != nil {
		return err
	}
	if g.Status == domain.StatusPending {
		return ErrGenerationPending
	}
	if err := a.store.DeleteGeneration(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if a.archive != nil && g.ReferenceStats.TextCount > 0 {
		if err := a.archive.Remove(ctx, uid, id); err != nil {
			a.logger.Warn("remove archived corpus failed", "generation_id", id, "err", err)
		}
	}
	return nil
}

func (a *App) owned(ctx context.Context, uid, id string) (domain.Generation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Generation{}, ErrNotFound
	}
	g, ok, err := a.store.GetGeneration(ctx, id)
	if err != nil {
		return domain.Generation{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return domain.Generation{}, ErrNotFound
	}
	if g.UID != uid {
		return domain.Generation{}, ErrForbidden
	}
	return g, nil
}

// StyleProfile runs only the style stage over references. It is not
// metered.
func (a *App) StyleProfile(ctx context.Context, refs []string) (domain.StyleProfile, error) {
	refs = compact(refs)
	if len(refs) == 0 {
		return domain.StyleProfile{}, fmt.Errorf("%w: references required", ErrInvalidInput)
	}
	profile, err := a.stages.Style(ctx, refs)
	if err != nil {
		stage, ok := pipeline.StageOf(err)
		if !ok {
			stage = domain.StageStyle
		}
		return domain.StyleProfile{}, &GenerationFailedError{Stage: stage, Err: err}
	}
	return profile, nil
}
