package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"postcraft/pkg/domain"
)

// MemoryStore is an in-process Store for tests and local runs.
// Transactions are serialized and only applied when fn returns nil.
type MemoryStore struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	accounts    map[string]domain.Account
	generations map[string]domain.Generation
	index       map[string]domain.GenerationIndex
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]domain.Account),
		generations: make(map[string]domain.Generation),
		index:       make(map[string]domain.GenerationIndex),
	}
}

type memoryTx struct {
	s           *MemoryStore
	accounts    map[string]domain.Account
	generations map[string]domain.Generation
}

func (t *memoryTx) LockAccount(seed domain.Account) (domain.Account, bool, error) {
	if a, ok := t.accounts[seed.UID]; ok {
		return a, false, nil
	}
	t.s.mu.Lock()
	a, ok := t.s.accounts[seed.UID]
	t.s.mu.Unlock()
	if ok {
		return a, false, nil
	}
	t.accounts[seed.UID] = seed
	return seed, true, nil
}

func (t *memoryTx) SaveAccount(a domain.Account) error {
	t.accounts[a.UID] = a
	return nil
}

func (t *memoryTx) LockGeneration(id string) (domain.Generation, bool, error) {
	if g, ok := t.generations[id]; ok {
		return cloneGeneration(g), true, nil
	}
	t.s.mu.Lock()
	g, ok := t.s.generations[id]
	t.s.mu.Unlock()
	if !ok {
		return domain.Generation{}, false, nil
	}
	return cloneGeneration(g), true, nil
}

func (t *memoryTx) SaveGeneration(g domain.Generation) error {
	t.generations[g.ID] = cloneGeneration(g)
	return nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{
		s:           s,
		accounts:    make(map[string]domain.Account),
		generations: make(map[string]domain.Generation),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for uid, a := range tx.accounts {
		s.accounts[uid] = a
	}
	for id, g := range tx.generations {
		s.generations[id] = g
		s.index[id] = domain.IndexOf(g)
	}
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, uid string) (domain.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[uid]
	return a, ok, nil
}

func (s *MemoryStore) SaveGeneration(_ context.Context, g domain.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[g.ID] = cloneGeneration(g)
	s.index[g.ID] = domain.IndexOf(g)
	return nil
}

func (s *MemoryStore) GetGeneration(_ context.Context, id string) (domain.Generation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok {
		return domain.Generation{}, false, nil
	}
	return cloneGeneration(g), true, nil
}

func (s *MemoryStore) GetGenerationIndex(_ context.Context, id string) (domain.GenerationIndex, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[id]
	return idx, ok, nil
}

func (s *MemoryStore) SaveGenerationIndex(_ context.Context, idx domain.GenerationIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[idx.ID] = idx
	return nil
}

// DropGenerationIndex removes only the index row. It exists to simulate a
// partially written job.
func (s *MemoryStore) DropGenerationIndex(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, id)
}

func (s *MemoryStore) ListGenerations(_ context.Context, uid string, after *Cursor, limit int) ([]domain.GenerationIndex, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	items := make([]domain.GenerationIndex, 0)
	for _, idx := range s.index {
		if idx.UID != uid {
			continue
		}
		if after != nil && !after.before(idx) {
			continue
		}
		items = append(items, idx)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) DeleteGeneration(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.generations, id)
	delete(s.index, id)
	return nil
}

func (s *MemoryStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	items := make([]domain.Generation, 0)
	for _, g := range s.generations {
		if g.Status == domain.StatusPending && g.CreatedAt.Before(before) {
			items = append(items, cloneGeneration(g))
		}
	}
	s.mu.Unlock()
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) FailPending(_ context.Context, id string, stage domain.Stage, msg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok || g.Status != domain.StatusPending {
		return false, nil
	}
	g.Status = domain.StatusFailed
	g.Stage = stage
	g.Error = msg
	g.UpdatedAt = time.Now().UTC()
	s.generations[id] = g
	s.index[id] = domain.IndexOf(g)
	return true, nil
}

func cloneGeneration(g domain.Generation) domain.Generation {
	c := g
	c.Input.Keywords = append([]string(nil), g.Input.Keywords...)
	if g.StyleProfile != nil {
		p := *g.StyleProfile
		c.StyleProfile = &p
	}
	if g.Output != nil {
		out := g.Output.Clone()
		c.Output = &out
	}
	return c
}
