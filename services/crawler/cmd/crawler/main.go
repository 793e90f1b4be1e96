package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"postcraft/internal/util"
	"postcraft/pkg/browser"
	"postcraft/pkg/extract"
	"postcraft/services/crawler/internal/config"
	"postcraft/services/crawler/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := extract.NewEngine(cfg.MinTextLength)
	engine.Logger = logger
	pool := browser.NewPool(browser.Config{
		MaxConcurrency:    cfg.MaxConcurrency,
		NavigationTimeout: time.Duration(cfg.NavigationTimeoutSeconds) * time.Second,
		ContainerWait:     time.Duration(cfg.ContainerWaitSeconds) * time.Second,
		UserAgent:         cfg.UserAgent,
		BrowserBin:        cfg.BrowserBin,
		ControlURL:        cfg.DebuggerURL,
		Engine:            engine,
		Metrics:           browser.NewMetrics(registry),
		Logger:            logger,
	})

	if cfg.APIKey == "" {
		logger.Warn("crawler running without shared secret; /extract is open")
	}
	httpServer := server.New(server.Config{
		Extractor:     pool,
		APIKey:        cfg.APIKey,
		APIKeyHeader:  cfg.APIKeyHeader,
		MinTextLength: cfg.MinTextLength,
		Gatherer:      registry,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutting down crawler")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("crawler listening", "addr", addr, "max_concurrency", cfg.MaxConcurrency)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
	if err := pool.Shutdown(); err != nil {
		logger.Warn("browser shutdown", "err", err)
	}
}
