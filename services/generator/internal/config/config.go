package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable with CONFIG_PATH.
var ConfigPath = func() string {
	if v := strings.TrimSpace(os.Getenv("CONFIG_PATH")); v != "" {
		return v
	}
	return "config.yaml"
}()

const (
	EnvProduction = "production"

	defaultRateLimit          = 20
	defaultRateWindowSeconds  = 60
	defaultCooldownSeconds    = 10
	defaultMinTextLength      = 200
	defaultCrawlerHeader      = "X-Crawler-Key"
	defaultStyleModel         = "o4-mini"
	defaultDraftModel         = "gpt-5-mini"
	defaultStageTimeout       = 120
	defaultServiceTimeout     = 40
	defaultFetchTimeout       = 12
	defaultSweepInterval      = 60
	defaultSweepStaleAfter    = 900
	defaultRefundStream       = "postcraft:refunds"
	defaultRefundGroup        = "postcraft-refunds"
	defaultRefundMaxRetries   = 5
	defaultHeavyMaxConcurrent = 1
	defaultHeavyTimeout       = 60
)

// maxStageCalls counts the model calls of one job: style, draft, rewrite
// and one leak rewrite.
const maxStageCalls = 4

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	Env      string `yaml:"env"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	AuthJWKSURL       string   `yaml:"authJwksURL"`
	JWTIssuer         string   `yaml:"jwtIssuer"`
	JWTAudience       string   `yaml:"jwtAudience"`
	JWTLeewaySeconds  int      `yaml:"jwtLeewaySeconds"`
	CORSAllowedOrigin []string `yaml:"corsAllowedOrigins"`
	TrustedProxies    []string `yaml:"trustedProxies"`

	RateLimitPerWindow      int `yaml:"rateLimitPerWindow"`
	RateLimitWindowSeconds  int `yaml:"rateLimitWindowSeconds"`
	GenerateCooldownSeconds int `yaml:"generateCooldownSeconds"`

	CrawlerURL            string `yaml:"crawlerURL"`
	CrawlerAPIKey         string `yaml:"crawlerAPIKey"`
	CrawlerAPIKeyHeader   string `yaml:"crawlerAPIKeyHeader"`
	CrawlerTimeoutSeconds int    `yaml:"crawlerTimeoutSeconds"`
	FetchTimeoutSeconds   int    `yaml:"fetchTimeoutSeconds"`
	MinTextLength         int    `yaml:"minTextLength"`
	HeavyBrowserBin       string `yaml:"heavyBrowserBin"`
	HeavyMaxConcurrency   int    `yaml:"heavyMaxConcurrency"`
	HeavyTimeoutSeconds   int    `yaml:"heavyTimeoutSeconds"`

	LLMProvider         string `yaml:"llmProvider"`
	LLMBaseURL          string `yaml:"llmBaseURL"`
	OpenAIAPIKey        string `yaml:"openAIAPIKey"`
	GeminiAPIKey        string `yaml:"geminiAPIKey"`
	StyleModel          string `yaml:"styleModel"`
	DraftModel          string `yaml:"draftModel"`
	RewriteModel        string `yaml:"rewriteModel"`
	StageTimeoutSeconds int    `yaml:"stageTimeoutSeconds"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	SweepIntervalSeconds   int    `yaml:"sweepIntervalSeconds"`
	SweepStaleAfterSeconds int    `yaml:"sweepStaleAfterSeconds"`
	RefundStream           string `yaml:"refundStream"`
	RefundGroup            string `yaml:"refundGroup"`
	RefundMaxRetries       int    `yaml:"refundMaxRetries"`
}

// IsProduction reports whether the heavy in-process browser must stay off.
func (c FileConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), EnvProduction)
}

func (c FileConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c FileConfig) GenerateCooldown() time.Duration {
	return time.Duration(c.GenerateCooldownSeconds) * time.Second
}

func (c FileConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

func (c FileConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c FileConfig) HeavyTimeout() time.Duration {
	return time.Duration(c.HeavyTimeoutSeconds) * time.Second
}

// PipelineBudget is the longest a healthy job can stay pending: every
// acquisition strategy timing out in turn, then every model call.
func (c FileConfig) PipelineBudget() time.Duration {
	seconds := c.CrawlerTimeoutSeconds + c.FetchTimeoutSeconds + c.HeavyTimeoutSeconds +
		maxStageCalls*c.StageTimeoutSeconds
	return time.Duration(seconds) * time.Second
}

// StaleAfter is how long a job may stay pending before the sweeper fails it.
func (c FileConfig) StaleAfter() time.Duration {
	return time.Duration(c.SweepStaleAfterSeconds) * time.Second
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and fills defaults. A missing file is allowed.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	envString("PORT", &cfg.Port)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("APP_ENV", &cfg.Env)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	envString("AUTH_JWKS_URL", &cfg.AuthJWKSURL)
	envString("JWT_ISSUER", &cfg.JWTIssuer)
	envString("JWT_AUDIENCE", &cfg.JWTAudience)
	if v := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		cfg.CORSAllowedOrigin = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("TRUSTED_PROXIES")); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	envInt("RATE_LIMIT_PER_WINDOW", &cfg.RateLimitPerWindow)
	envInt("RATE_LIMIT_WINDOW_SECONDS", &cfg.RateLimitWindowSeconds)
	envInt("GENERATE_COOLDOWN_SECONDS", &cfg.GenerateCooldownSeconds)
	envString("CRAWLER_URL", &cfg.CrawlerURL)
	if v, ok := os.LookupEnv("CRAWLER_API_KEY"); ok {
		cfg.CrawlerAPIKey = v
	}
	envString("CRAWLER_API_KEY_HEADER", &cfg.CrawlerAPIKeyHeader)
	envInt("MIN_TEXT_LENGTH", &cfg.MinTextLength)
	envString("LLM_PROVIDER", &cfg.LLMProvider)
	envString("LLM_BASE_URL", &cfg.LLMBaseURL)
	envString("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	envString("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	envString("STYLE_MODEL", &cfg.StyleModel)
	envString("DRAFT_MODEL", &cfg.DraftModel)
	envString("REWRITE_MODEL", &cfg.RewriteModel)
	envInt("STAGE_TIMEOUT_SECONDS", &cfg.StageTimeoutSeconds)
	envInt("HEAVY_TIMEOUT_SECONDS", &cfg.HeavyTimeoutSeconds)
	envString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	envString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	envString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	envString("MINIO_BUCKET", &cfg.MinioBucket)
	envString("AMQP_URL", &cfg.AMQPURL)
	envInt("SWEEP_INTERVAL_SECONDS", &cfg.SweepIntervalSeconds)
	envInt("SWEEP_STALE_AFTER_SECONDS", &cfg.SweepStaleAfterSeconds)

	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8081"
	}
	if cfg.RateLimitPerWindow == 0 {
		cfg.RateLimitPerWindow = defaultRateLimit
	}
	if cfg.RateLimitWindowSeconds == 0 {
		cfg.RateLimitWindowSeconds = defaultRateWindowSeconds
	}
	if cfg.GenerateCooldownSeconds == 0 {
		cfg.GenerateCooldownSeconds = defaultCooldownSeconds
	}
	if cfg.CrawlerAPIKeyHeader == "" {
		cfg.CrawlerAPIKeyHeader = defaultCrawlerHeader
	}
	if cfg.CrawlerTimeoutSeconds == 0 {
		cfg.CrawlerTimeoutSeconds = defaultServiceTimeout
	}
	if cfg.FetchTimeoutSeconds == 0 {
		cfg.FetchTimeoutSeconds = defaultFetchTimeout
	}
	if cfg.MinTextLength == 0 {
		cfg.MinTextLength = defaultMinTextLength
	}
	if cfg.HeavyMaxConcurrency == 0 {
		cfg.HeavyMaxConcurrency = defaultHeavyMaxConcurrent
	}
	if cfg.HeavyTimeoutSeconds == 0 {
		cfg.HeavyTimeoutSeconds = defaultHeavyTimeout
	}
	if cfg.StyleModel == "" {
		cfg.StyleModel = defaultStyleModel
	}
	if cfg.DraftModel == "" {
		cfg.DraftModel = defaultDraftModel
	}
	if cfg.RewriteModel == "" {
		cfg.RewriteModel = cfg.DraftModel
	}
	if cfg.StageTimeoutSeconds == 0 {
		cfg.StageTimeoutSeconds = defaultStageTimeout
	}
	if cfg.SweepIntervalSeconds == 0 {
		cfg.SweepIntervalSeconds = defaultSweepInterval
	}
	if cfg.SweepStaleAfterSeconds == 0 {
		cfg.SweepStaleAfterSeconds = defaultSweepStaleAfter
	}
	if cfg.RefundStream == "" {
		cfg.RefundStream = defaultRefundStream
	}
	if cfg.RefundGroup == "" {
		cfg.RefundGroup = defaultRefundGroup
	}
	if cfg.RefundMaxRetries == 0 {
		cfg.RefundMaxRetries = defaultRefundMaxRetries
	}
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "postcraft.events"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" && cfg.IsProduction() {
		return errors.New("config: databaseURL is required in production (config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (config.yaml or REDIS_ADDR)")
	}
	if cfg.AuthJWKSURL == "" {
		return errors.New("config: authJwksURL is required (config.yaml or AUTH_JWKS_URL)")
	}
	if cfg.RateLimitPerWindow < 1 || cfg.RateLimitWindowSeconds < 1 {
		return errors.New("config: rate limit and window must be >= 1")
	}
	if cfg.GenerateCooldownSeconds < 0 {
		return errors.New("config: generateCooldownSeconds must be >= 0")
	}
	if cfg.MinTextLength < 1 {
		return errors.New("config: minTextLength must be >= 1")
	}
	if cfg.StageTimeoutSeconds < 1 {
		return errors.New("config: stageTimeoutSeconds must be >= 1")
	}
	if cfg.CrawlerTimeoutSeconds < 1 || cfg.FetchTimeoutSeconds < 1 || cfg.HeavyTimeoutSeconds < 1 {
		return errors.New("config: crawler, fetch and heavy timeouts must be >= 1")
	}
	if cfg.StaleAfter() <= cfg.PipelineBudget() {
		return fmt.Errorf("config: sweepStaleAfterSeconds (%d) must exceed the pipeline budget of %ds",
			cfg.SweepStaleAfterSeconds, int(cfg.PipelineBudget().Seconds()))
	}
	switch strings.ToLower(cfg.LLMProvider) {
	case "", "openai", "openai-compat":
		if cfg.OpenAIAPIKey == "" && cfg.LLMBaseURL == "" {
			return errors.New("config: openAIAPIKey is required (config.yaml or OPENAI_API_KEY)")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required (config.yaml or GEMINI_API_KEY)")
		}
	case "ollama":
	default:
		return fmt.Errorf("config: unknown llmProvider %q", cfg.LLMProvider)
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	return nil
}
