package references

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ServiceStrategy calls the crawler's POST /extract endpoint.
type ServiceStrategy struct {
	baseURL    string
	apiKey     string
	header     string
	timeout    time.Duration
	httpClient *http.Client
}

func NewServiceStrategy(baseURL, apiKey, header string, timeout time.Duration) *ServiceStrategy {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.TrimSpace(header) == "" {
		header = "X-Crawler-Key"
	}
	if timeout <= 0 {
		timeout = 40 * time.Second
	}
	return &ServiceStrategy{
		baseURL:    baseURL,
		apiKey:     apiKey,
		header:     header,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (s *ServiceStrategy) Name() Source { return SourceService }

func (s *ServiceStrategy) Fetch(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"url": rawURL})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set(s.header, s.apiKey)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("crawler request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("%w: crawler status %d", ErrMiss, resp.StatusCode)
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode crawler response: %w", err)
	}
	return payload.Text, nil
}
