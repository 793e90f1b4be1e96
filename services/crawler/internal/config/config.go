package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

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
	defaultAPIKeyHeader      = "X-Crawler-Key"
	defaultMaxConcurrency    = 2
	defaultMinTextLength     = 200
	defaultNavigationSeconds = 25
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string `yaml:"port"`
	LogLevel                 string `yaml:"logLevel"`
	APIKey                   string `yaml:"apiKey"`
	APIKeyHeader             string `yaml:"apiKeyHeader"`
	MaxConcurrency           int    `yaml:"maxConcurrency"`
	MinTextLength            int    `yaml:"minTextLength"`
	NavigationTimeoutSeconds int    `yaml:"navigationTimeoutSeconds"`
	ContainerWaitSeconds     int    `yaml:"containerWaitSeconds"`
	BrowserBin               string `yaml:"browserBin"`
	DebuggerURL              string `yaml:"debuggerURL"`
	UserAgent                string `yaml:"userAgent"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and fills defaults.
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
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("CRAWLER_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v := os.Getenv("CRAWLER_API_KEY_HEADER"); v != "" {
		cfg.APIKeyHeader = strings.TrimSpace(v)
	}
	if v := os.Getenv("CRAWLER_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MaxConcurrency = n
		}
	}
	if v := os.Getenv("CRAWLER_MIN_TEXT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MinTextLength = n
		}
	}
	if v := os.Getenv("CRAWLER_NAVIGATION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.NavigationTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CRAWLER_BROWSER_BIN"); v != "" {
		cfg.BrowserBin = strings.TrimSpace(v)
	}
	if v := os.Getenv("CRAWLER_DEBUGGER_URL"); v != "" {
		cfg.DebuggerURL = strings.TrimSpace(v)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = defaultAPIKeyHeader
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.MinTextLength == 0 {
		cfg.MinTextLength = defaultMinTextLength
	}
	if cfg.NavigationTimeoutSeconds == 0 {
		cfg.NavigationTimeoutSeconds = defaultNavigationSeconds
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.MaxConcurrency < 1 {
		return errors.New("config: maxConcurrency must be >= 1 (config.yaml or CRAWLER_MAX_CONCURRENCY)")
	}
	if cfg.MinTextLength < 1 {
		return errors.New("config: minTextLength must be >= 1 (config.yaml or CRAWLER_MIN_TEXT_LENGTH)")
	}
	if cfg.NavigationTimeoutSeconds < 1 {
		return errors.New("config: navigationTimeoutSeconds must be >= 1")
	}
	if cfg.ContainerWaitSeconds < 0 {
		return errors.New("config: containerWaitSeconds must be >= 0")
	}
	return nil
}
