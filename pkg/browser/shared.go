package browser

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned once the shared browser has been shut down.
var ErrClosed = errors.New("browser pool closed")

// shared lazily starts one value for the process lifetime. Concurrent first
// callers share a single in-flight start; a failed start is retried by the
// next caller.
type shared[T any] struct {
	start func(context.Context) (T, error)
	stop  func(T) error

	group    singleflight.Group
	mu       sync.Mutex
	value    T
	ready    bool
	closed   bool
	stopOnce sync.Once
}

func newShared[T any](start func(context.Context) (T, error), stop func(T) error) *shared[T] {
	return &shared[T]{start: start, stop: stop}
}

func (s *shared[T]) Get(ctx context.Context) (T, error) {
	var zero T
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return zero, ErrClosed
	}
	if s.ready {
		v := s.value
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	res, err, _ := s.group.Do("start", func() (any, error) {
		s.mu.Lock()
		if s.ready {
			v := s.value
			s.mu.Unlock()
			return v, nil
		}
		s.mu.Unlock()

		// Detach from the first caller's cancellation; the value outlives it.
		v, err := s.start(context.WithoutCancel(ctx))
		if err != nil {
			return zero, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			_ = s.stop(v)
			return zero, ErrClosed
		}
		s.value, s.ready = v, true
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

// Close stops the value at most once. Later Get calls fail with ErrClosed.
func (s *shared[T]) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		v, ready := s.value, s.ready
		s.ready = false
		s.mu.Unlock()
		if ready {
			err = s.stop(v)
		}
	})
	return err
}
