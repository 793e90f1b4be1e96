package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("empty model response")

// Request is one JSON-mode completion call.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float32
}

// Generator returns a JSON document produced by a language model.
// Gemini, Ollama and OpenAI-compatible providers implement this interface.
type Generator interface {
	GenerateJSON(ctx context.Context, req Request) (string, error)
}

// DecodeJSON unmarshals model output into v. Models sometimes wrap the
// object in prose or code fences, so when a direct decode fails the span
// from the first '{' to the last '}' is tried.
func DecodeJSON(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrEmptyResponse
	}
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("decode model json: %w", err)
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}

// ExtractJSON returns the object span DecodeJSON would accept, or raw
// unchanged when it already parses.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if json.Valid([]byte(raw)) {
		return raw
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
