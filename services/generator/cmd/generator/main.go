package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"postcraft/internal/ratelimit"
	"postcraft/internal/usertoken"
	"postcraft/internal/util"
	"postcraft/pkg/ai"
	"postcraft/pkg/browser"
	"postcraft/pkg/events"
	"postcraft/pkg/extract"
	"postcraft/pkg/queue"
	"postcraft/pkg/storage"
	"postcraft/pkg/store"
	"postcraft/services/generator/internal/app"
	"postcraft/services/generator/internal/config"
	"postcraft/services/generator/internal/pipeline"
	"postcraft/services/generator/internal/references"
	"postcraft/services/generator/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var dataStore store.Store
	if cfg.DatabaseURL == "" {
		logger.Warn("databaseURL empty; using in-memory store")
		dataStore = store.NewMemoryStore()
	} else {
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			util.Fatal("failed to init postgres store", "err", err)
		}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "postcraft:generator:ratelimit", cfg.RateLimitPerWindow, cfg.RateLimitWindow())
	if err != nil {
		util.Fatal("failed to init rate limiter", "err", err)
	}
	var cooldown app.Cooldown
	if cfg.GenerateCooldown() > 0 {
		cd, err := ratelimit.NewCooldown(redisClient, "postcraft:generator:cooldown", cfg.GenerateCooldown())
		if err != nil {
			util.Fatal("failed to init cooldown", "err", err)
		}
		cooldown = cd
	}

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   time.Duration(cfg.JWTLeewaySeconds) * time.Second,
	})
	if err != nil {
		util.Fatal("failed to init jwks verifier", "err", err)
	}

	apiKey := cfg.OpenAIAPIKey
	if strings.EqualFold(cfg.LLMProvider, "gemini") {
		apiKey = cfg.GeminiAPIKey
	}
	generator, err := ai.NewGenerator(ai.ProviderConfig{Provider: cfg.LLMProvider, APIKey: apiKey, BaseURL: cfg.LLMBaseURL})
	if err != nil {
		util.Fatal("failed to init llm provider", "err", err)
	}
	stages := pipeline.New(generator, pipeline.Models{
		Style:   cfg.StyleModel,
		Draft:   cfg.DraftModel,
		Rewrite: cfg.RewriteModel,
	}, cfg.StageTimeout())

	var strategies []references.Strategy
	if cfg.CrawlerURL != "" {
		strategies = append(strategies, references.NewServiceStrategy(cfg.CrawlerURL, cfg.CrawlerAPIKey, cfg.CrawlerAPIKeyHeader,
			time.Duration(cfg.CrawlerTimeoutSeconds)*time.Second))
	}
	strategies = append(strategies, references.NewHTMLStrategy(time.Duration(cfg.FetchTimeoutSeconds)*time.Second, cfg.MinTextLength))
	var pool *browser.Pool
	if !cfg.IsProduction() {
		engine := extract.NewEngine(cfg.MinTextLength)
		engine.Logger = logger
		pool = browser.NewPool(browser.Config{
			MaxConcurrency: cfg.HeavyMaxConcurrency,
			BrowserBin:     cfg.HeavyBrowserBin,
			Engine:         engine,
			Metrics:        browser.NewMetrics(registry),
			Logger:         logger,
		})
		strategies = append(strategies, references.NewHeavyStrategy(pool, cfg.HeavyTimeout()))
	}
	resolver := references.NewResolver(cfg.MinTextLength, logger, strategies...)

	var archive app.CorpusArchiver
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioObjects(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		archive = storage.NewCorpusArchive(objects, "corpus")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		p, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, "generator")
		if err != nil {
			util.Fatal("failed to init event publisher", "err", err)
		}
		publisher = p
	}
	defer publisher.Close()

	refunds, err := queue.NewRefundQueue(queue.RefundQueueConfig{
		Client:     redisClient,
		Stream:     cfg.RefundStream,
		Group:      cfg.RefundGroup,
		MaxRetries: cfg.RefundMaxRetries,
		Logger:     logger,
	})
	if err != nil {
		util.Fatal("failed to init refund queue", "err", err)
	}

	application, err := app.New(app.Config{
		Store:      dataStore,
		Stages:     stages,
		References: resolver,
		Cooldown:   cooldown,
		Archive:    archive,
		Events:     publisher,
		Refunds:    refunds,
		Logger:     logger,
		StaleAfter: cfg.StaleAfter(),
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	refunds.Start(ctx, 1, application.HandleRefundTask)
	go application.RunSweeper(ctx, cfg.SweepInterval())

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("invalid trustedProxies", "err", err)
	}

	httpServer := server.New(server.Config{
		App:            application,
		Auth:           verifier,
		Limiter:        limiter,
		AllowedOrigins: cfg.CORSAllowedOrigin,
		TrustedProxies: proxies,
		Metrics:        server.NewMetrics(registry),
		Gatherer:       registry,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// generations chain several model calls
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down generator")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("generator listening", "addr", addr, "production", cfg.IsProduction(), "heavy_fallback", pool != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
	if pool != nil {
		if err := pool.Shutdown(); err != nil {
			logger.Warn("browser shutdown", "err", err)
		}
	}
}
