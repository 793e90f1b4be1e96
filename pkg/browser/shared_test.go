package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSharedStartsOnceForConcurrentCallers(t *testing.T) {
	var starts, stops int32
	release := make(chan struct{})
	s := newShared(func(context.Context) (int, error) {
		atomic.AddInt32(&starts, 1)
		<-release
		return 42, nil
	}, func(int) error {
		atomic.AddInt32(&stops, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Get(context.Background())
			if err != nil || v != 42 {
				t.Errorf("get: v=%d err=%v", v, err)
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&starts); got != 1 {
		t.Fatalf("expected one start, got %d", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = s.Close()
	if got := atomic.LoadInt32(&stops); got != 1 {
		t.Fatalf("expected one stop, got %d", got)
	}
	if _, err := s.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestSharedRetriesAfterFailedStart(t *testing.T) {
	calls := 0
	s := newShared(func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("chrome missing")
		}
		return "ok", nil
	}, func(string) error { return nil })

	if _, err := s.Get(context.Background()); err == nil {
		t.Fatalf("expected first start to fail")
	}
	v, err := s.Get(context.Background())
	if err != nil || v != "ok" {
		t.Fatalf("expected retry to succeed, v=%q err=%v", v, err)
	}
}

func TestSharedCloseWithoutStartIsNoop(t *testing.T) {
	s := newShared(func(context.Context) (int, error) { return 1, nil }, func(int) error {
		t.Fatalf("stop must not run for a value that never started")
		return nil
	})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
