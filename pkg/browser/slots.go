package browser

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Slots is a counting semaphore that grants permits in arrival order.
type Slots struct {
	mu      sync.Mutex
	max     int
	active  int
	waiters list.List // of *waiter
	metrics *Metrics
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// Permit is one held slot. Release is safe to call more than once.
type Permit struct {
	slots *Slots
	once  sync.Once
}

// NewSlots returns a semaphore with max permits (at least 1).
func NewSlots(max int, metrics *Metrics) *Slots {
	if max <= 0 {
		max = 1
	}
	s := &Slots{max: max, metrics: metrics}
	s.waiters.Init()
	return s
}

// Acquire blocks until a permit is free or ctx is done.
func (s *Slots) Acquire(ctx context.Context) (*Permit, error) {
	start := time.Now()
	s.mu.Lock()
	if s.active < s.max && s.waiters.Len() == 0 {
		s.active++
		s.observeLocked()
		s.mu.Unlock()
		s.metrics.observeWait(time.Since(start))
		return &Permit{slots: s}, nil
	}
	w := &waiter{ready: make(chan struct{})}
	elem := s.waiters.PushBack(w)
	s.observeLocked()
	s.mu.Unlock()

	select {
	case <-w.ready:
		s.metrics.observeWait(time.Since(start))
		return &Permit{slots: s}, nil
	case <-ctx.Done():
		s.mu.Lock()
		if w.granted {
			// The slot was handed over while we were giving up; pass it on.
			s.mu.Unlock()
			s.release()
			return nil, ctx.Err()
		}
		s.waiters.Remove(elem)
		s.observeLocked()
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Release returns the permit. Later calls are no-ops.
func (p *Permit) Release() {
	if p == nil || p.slots == nil {
		return
	}
	p.once.Do(p.slots.release)
}

func (s *Slots) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if front := s.waiters.Front(); front != nil {
		w := s.waiters.Remove(front).(*waiter)
		w.granted = true
		close(w.ready)
		s.observeLocked()
		return
	}
	s.active--
	if s.active < 0 {
		s.active = 0
	}
	s.observeLocked()
}

// Active reports permits currently held.
func (s *Slots) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Waiting reports callers queued for a permit.
func (s *Slots) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

func (s *Slots) observeLocked() {
	s.metrics.setSlots(s.active, s.waiters.Len())
}
