package references

import (
	"context"
	"time"
)

const defaultHeavyTimeout = 60 * time.Second

// PageExtractor is satisfied by *browser.Pool.
type PageExtractor interface {
	Extract(ctx context.Context, rawURL string) (string, error)
}

// HeavyStrategy runs an in-process browser extraction. It is only wired
// outside production.
type HeavyStrategy struct {
	pool    PageExtractor
	timeout time.Duration
}

// NewHeavyStrategy bounds each extraction, slot wait included, by timeout.
func NewHeavyStrategy(pool PageExtractor, timeout time.Duration) *HeavyStrategy {
	if timeout <= 0 {
		timeout = defaultHeavyTimeout
	}
	return &HeavyStrategy{pool: pool, timeout: timeout}
}

func (s *HeavyStrategy) Name() Source { return SourceHeavy }

func (s *HeavyStrategy) Fetch(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.pool.Extract(ctx, rawURL)
}
