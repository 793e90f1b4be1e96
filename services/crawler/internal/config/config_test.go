package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_API_KEY", "s3cret")
	t.Setenv("CRAWLER_MAX_CONCURRENCY", "4")
	t.Setenv("CRAWLER_MIN_TEXT_LENGTH", "300")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "9090"
logLevel: "debug"
maxConcurrency: 1
navigationTimeoutSeconds: 10
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.APIKey != "s3cret" {
		t.Fatalf("apiKey = %q, want s3cret", cfg.APIKey)
	}
	if cfg.MaxConcurrency != 4 {
		t.Fatalf("maxConcurrency = %d, want 4", cfg.MaxConcurrency)
	}
	if cfg.MinTextLength != 300 {
		t.Fatalf("minTextLength = %d, want 300", cfg.MinTextLength)
	}
	if cfg.NavigationTimeoutSeconds != 10 {
		t.Fatalf("navigationTimeoutSeconds = %d, want 10", cfg.NavigationTimeoutSeconds)
	}
	if cfg.APIKeyHeader != "X-Crawler-Key" {
		t.Fatalf("apiKeyHeader = %q, want default", cfg.APIKeyHeader)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" || cfg.MinTextLength != 200 || cfg.NavigationTimeoutSeconds != 25 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.APIKey != "" {
		t.Fatalf("expected open mode without configured key")
	}
}

func TestValidateConfigRejectsNegativeConcurrency(t *testing.T) {
	t.Setenv("CRAWLER_MAX_CONCURRENCY", "-1")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected validation error")
	}
}
