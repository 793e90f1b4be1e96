package main

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"postcraft/pkg/browser"
	"postcraft/pkg/extract"
	"postcraft/services/generator/internal/references"
)

type extractOptions struct {
	crawlerURL    string
	crawlerKey    string
	crawlerHeader string
	minLength     int
	timeout       time.Duration
	heavy         bool
	browserBin    string
}

func newExtractCmd() *cobra.Command {
	opts := extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract <url>...",
		Short: "Resolve reference URLs through the acquisition chain and print the results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, closeFn := opts.resolver()
			defer closeFn()
			results := resolver.ResolveAll(cmd.Context(), args)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.crawlerURL, "crawler-url", "", "extraction service base URL; empty skips the service strategy")
	f.StringVar(&opts.crawlerKey, "crawler-key", "", "extraction service API key")
	f.StringVar(&opts.crawlerHeader, "crawler-header", "X-Crawler-Key", "header carrying the extraction service API key")
	f.IntVar(&opts.minLength, "min-length", extract.DefaultMinTextLength, "minimum text length of an accepted result")
	f.DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-strategy timeout")
	f.BoolVar(&opts.heavy, "heavy", false, "fall back to a local headless browser")
	f.StringVar(&opts.browserBin, "browser-bin", "", "browser binary for --heavy")
	return cmd
}

func (o extractOptions) resolver() (*references.Resolver, func()) {
	logger := slog.Default()
	var strategies []references.Strategy
	if o.crawlerURL != "" {
		strategies = append(strategies, references.NewServiceStrategy(o.crawlerURL, o.crawlerKey, o.crawlerHeader, o.timeout))
	}
	strategies = append(strategies, references.NewHTMLStrategy(o.timeout, o.minLength))
	closeFn := func() {}
	if o.heavy {
		engine := extract.NewEngine(o.minLength)
		engine.Logger = logger
		pool := browser.NewPool(browser.Config{
			MaxConcurrency:    1,
			NavigationTimeout: o.timeout,
			BrowserBin:        o.browserBin,
			Engine:            engine,
			Logger:            logger,
		})
		strategies = append(strategies, references.NewHeavyStrategy(pool, o.timeout))
		closeFn = func() {
			if err := pool.Shutdown(); err != nil {
				logger.Warn("browser shutdown", "err", err)
			}
		}
	}
	return references.NewResolver(o.minLength, logger, strategies...), closeFn
}
