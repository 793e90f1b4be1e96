package references

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
	"postcraft/pkg/domain"
	"postcraft/pkg/extract"
)

// Source names the strategy that produced a reference text.
type Source string

const (
	SourceService Source = "service"
	SourceHTML    Source = "html"
	SourceHeavy   Source = "heavyBrowser"
	SourceNone    Source = "none"
)

// ErrMiss means a strategy produced no usable text. It never leaves Resolve.
var ErrMiss = errors.New("reference miss")

// Result is the outcome of resolving one URL. Text is empty iff Source is none.
type Result struct {
	URL    string `json:"url"`
	Text   string `json:"text,omitempty"`
	Source Source `json:"source"`
}

// Strategy is one way of turning a URL into reference text. Any error,
// including ErrMiss, moves the chain to the next strategy.
type Strategy interface {
	Name() Source
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Resolver runs the acquisition strategies in order. It keeps no state
// between calls.
type Resolver struct {
	strategies []Strategy
	minLength  int
	logger     *slog.Logger
}

// NewResolver builds a chain that tries strategies in the given order.
func NewResolver(minLength int, logger *slog.Logger, strategies ...Strategy) *Resolver {
	if minLength <= 0 {
		minLength = extract.DefaultMinTextLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{minLength: minLength, logger: logger}
	for _, s := range strategies {
		if s != nil {
			r.strategies = append(r.strategies, s)
		}
	}
	return r
}

// Resolve returns the first strategy result that reaches the minimum length.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Result {
	rawURL = strings.TrimSpace(rawURL)
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			break
		}
		text, err := fetch(ctx, s, rawURL)
		if err == nil && extract.Length(text) < r.minLength {
			err = ErrMiss
		}
		if err != nil {
			r.logger.Debug("reference strategy miss", "url", rawURL, "strategy", s.Name(), "err", err)
			continue
		}
		return Result{URL: rawURL, Text: text, Source: s.Name()}
	}
	return Result{URL: rawURL, Source: SourceNone}
}

// fetch runs one strategy and turns a panic into a miss so a hostile page
// cannot take down the process.
func fetch(ctx context.Context, s Strategy, rawURL string) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("%w: strategy %s panicked: %v", ErrMiss, s.Name(), p)
		}
	}()
	return s.Fetch(ctx, rawURL)
}

// ResolveAll resolves every URL concurrently, one goroutine per URL with no
// cap. Results keep the input order.
func (r *Resolver) ResolveAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			results[i] = r.Resolve(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Gather resolves urls and merges them after the manual texts, returning
// the corpus and its stats.
func (r *Resolver) Gather(ctx context.Context, manual, urls []string) ([]string, domain.ReferenceStats, []Result) {
	texts := make([]string, 0, len(manual)+len(urls))
	for _, t := range manual {
		if strings.TrimSpace(t) != "" {
			texts = append(texts, t)
		}
	}
	results := r.ResolveAll(ctx, urls)
	fetched := 0
	for _, res := range results {
		if res.Source == SourceNone {
			continue
		}
		fetched++
		texts = append(texts, res.Text)
	}
	return texts, domain.ReferenceStats{
		URLCount:     len(urls),
		FetchedCount: fetched,
		TextCount:    len(texts),
	}, results
}
