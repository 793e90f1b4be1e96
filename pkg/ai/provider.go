package ai

import (
	"fmt"
	"strings"
)

// ProviderConfig selects and configures one Generator backend.
type ProviderConfig struct {
	Provider string // openai (default), gemini, ollama
	APIKey   string
	BaseURL  string
}

// NewGenerator builds the Generator named by cfg.Provider.
func NewGenerator(cfg ProviderConfig) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai", "openai-compat":
		return NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL)
	case "gemini":
		client, err := NewGeminiClient(cfg.APIKey)
		if err != nil {
			return nil, err
		}
		return client.WithBaseURL(cfg.BaseURL), nil
	case "ollama":
		return NewOllamaClient(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
