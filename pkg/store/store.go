package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"postcraft/pkg/domain"
)

// Tx is the view of the store inside one atomic transaction.
type Tx interface {
	// LockAccount returns the account locked for update, inserting seed
	// first when no account exists. created reports that insert.
	LockAccount(seed domain.Account) (acct domain.Account, created bool, err error)
	SaveAccount(domain.Account) error
	// LockGeneration returns the full record locked for update.
	LockGeneration(id string) (domain.Generation, bool, error)
	// SaveGeneration upserts the full record and its per-user index.
	SaveGeneration(domain.Generation) error
}

// Store defines persistence for accounts and generation jobs.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	// accounts
	GetAccount(ctx context.Context, uid string) (domain.Account, bool, error)

	// generations
	SaveGeneration(ctx context.Context, g domain.Generation) error
	GetGeneration(ctx context.Context, id string) (domain.Generation, bool, error)
	GetGenerationIndex(ctx context.Context, id string) (domain.GenerationIndex, bool, error)
	SaveGenerationIndex(ctx context.Context, idx domain.GenerationIndex) error
	ListGenerations(ctx context.Context, uid string, after *Cursor, limit int) ([]domain.GenerationIndex, error)
	DeleteGeneration(ctx context.Context, id string) error

	// recovery
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Generation, error)
	// FailPending moves a pending job to failed. It reports false when the
	// job was not pending anymore.
	FailPending(ctx context.Context, id string, stage domain.Stage, msg string) (bool, error)
}

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a position in a createdAt-descending listing.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor that continues after idx.
func CursorAfter(idx domain.GenerationIndex) Cursor {
	return Cursor{CreatedAt: idx.CreatedAt, ID: idx.ID}
}

// String encodes the cursor as "<createdAtMillis>_<id>".
func (c Cursor) String() string {
	return strconv.FormatInt(c.CreatedAt.UnixMilli(), 10) + "_" + c.ID
}

// ParseCursor decodes a cursor produced by Cursor.String.
func ParseCursor(raw string) (Cursor, error) {
	ms, id, ok := strings.Cut(strings.TrimSpace(raw), "_")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n < 0 {
		return Cursor{}, fmt.Errorf("%w: %q", ErrInvalidCursor, raw)
	}
	return Cursor{CreatedAt: time.UnixMilli(n).UTC(), ID: id}, nil
}

// before reports whether idx sorts after c in createdAt-desc, id-desc order.
func (c Cursor) before(idx domain.GenerationIndex) bool {
	if idx.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return idx.CreatedAt.Equal(c.CreatedAt) && idx.ID < c.ID
}
