package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"postcraft/pkg/extract"
)

const (
	DefaultUserAgent         = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultNavigationTimeout = 25 * time.Second
	defaultIdleTimeout       = 3 * time.Second
	defaultContainerWait     = 5 * time.Second
)

// Config configures a Pool.
type Config struct {
	MaxConcurrency    int
	NavigationTimeout time.Duration
	IdleTimeout       time.Duration
	ContainerWait     time.Duration
	UserAgent         string
	// BrowserBin is the Chrome binary to launch; empty lets rod locate one.
	BrowserBin string
	// ControlURL connects to an already running browser instead of launching.
	ControlURL string
	Engine     *extract.Engine
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Pool runs page extractions on one shared browser with bounded concurrency.
// Each extraction gets its own incognito context.
type Pool struct {
	cfg     Config
	slots   *Slots
	browser *shared[*rod.Browser]
	engine  *extract.Engine
	logger  *slog.Logger
}

// NewPool builds a Pool. The browser starts on first use.
func NewPool(cfg Config) *Pool {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ContainerWait <= 0 {
		cfg.ContainerWait = defaultContainerWait
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	engine := cfg.Engine
	if engine == nil {
		engine = extract.NewEngine(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:    cfg,
		slots:  NewSlots(cfg.MaxConcurrency, cfg.Metrics),
		engine: engine,
		logger: logger,
	}
	p.browser = newShared(p.launch, func(b *rod.Browser) error { return b.Close() })
	return p
}

// Slots exposes the pool's semaphore.
func (p *Pool) Slots() *Slots {
	return p.slots
}

// Browser returns the shared browser, starting it on first use.
func (p *Pool) Browser(ctx context.Context) (*rod.Browser, error) {
	return p.browser.Get(ctx)
}

// Shutdown closes the shared browser once. Extractions still running fail
// on their own.
func (p *Pool) Shutdown() error {
	return p.browser.Close()
}

func (p *Pool) launch(ctx context.Context) (*rod.Browser, error) {
	controlURL := strings.TrimSpace(p.cfg.ControlURL)
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if bin := strings.TrimSpace(p.cfg.BrowserBin); bin != "" {
			l = l.Bin(bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}
	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	p.logger.Info("browser started", "control_url", controlURL)
	return b, nil
}

// Extract loads rawURL in a fresh context and returns the best text found.
// The slot is held for the whole load and released on every path.
func (p *Pool) Extract(ctx context.Context, rawURL string) (string, error) {
	permit, err := p.slots.Acquire(ctx)
	if err != nil {
		p.cfg.Metrics.countOutcome("canceled")
		return "", err
	}
	defer permit.Release()

	text, err := p.extract(ctx, rawURL)
	if err != nil {
		p.cfg.Metrics.countOutcome("error")
		return "", err
	}
	p.cfg.Metrics.countOutcome("ok")
	return text, nil
}

func (p *Pool) extract(ctx context.Context, rawURL string) (string, error) {
	b, err := p.Browser(ctx)
	if err != nil {
		return "", err
	}
	incognito, err := b.Incognito()
	if err != nil {
		return "", fmt.Errorf("incognito context: %w", err)
	}
	defer func() {
		if err := incognito.Close(); err != nil {
			p.logger.Debug("close incognito context", "err", err)
		}
	}()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	page = page.Context(ctx)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: p.cfg.UserAgent}); err != nil {
		return "", fmt.Errorf("set user agent: %w", err)
	}

	router := page.HijackRequests()
	if err := router.Add("*", "", func(h *rod.Hijack) {
		if BlockResource(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}); err != nil {
		return "", fmt.Errorf("hijack requests: %w", err)
	}
	go router.Run()
	defer func() { _ = router.Stop() }()

	navCtx, cancel := context.WithTimeout(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	nav := page.Context(navCtx)
	if err := nav.Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := nav.WaitLoad(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("wait load: %w", err)
	}
	_ = page.WaitIdle(p.cfg.IdleTimeout)

	if extract.IsBlogFamily(rawURL) {
		p.waitForContainer(ctx, page)
	}
	docs := p.snapshot(page)
	return p.engine.Extract(rawURL, docs), nil
}

// waitForContainer gives blog-family pages a bounded chance to render a
// known post container. A miss is tolerated.
func (p *Pool) waitForContainer(ctx context.Context, page *rod.Page) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ContainerWait)
	defer cancel()
	selector := strings.Join(extract.BlogContainerSelectors, ", ")
	if _, err := page.Context(waitCtx).Element(selector); err == nil {
		return
	}
	// Desktop posts render inside a frame.
	if frame, err := page.Context(waitCtx).Element("iframe#mainFrame"); err == nil {
		if fp, err := frame.Frame(); err == nil {
			_, _ = fp.Context(waitCtx).Element(selector)
		}
	}
}

func (p *Pool) snapshot(page *rod.Page) []extract.Document {
	top := pageDocument{page: page}
	if info, err := page.Info(); err == nil {
		top.url = info.URL
	}
	docs := []extract.Document{top}
	frames, err := page.Elements("iframe")
	if err != nil {
		return docs
	}
	for _, el := range frames {
		fp, err := el.Frame()
		if err != nil {
			continue
		}
		src := ""
		if v, err := el.Attribute("src"); err == nil && v != nil {
			src = *v
		}
		docs = append(docs, pageDocument{page: fp, url: src})
	}
	return docs
}

// pageDocument snapshots a rod page or frame on demand.
type pageDocument struct {
	page *rod.Page
	url  string
}

func (d pageDocument) URL() string { return d.url }

func (d pageDocument) HTML() (string, error) {
	return d.page.HTML()
}
