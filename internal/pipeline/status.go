package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusSource is a secondary, higher-fidelity source for memory usage.
type StatusSource interface {
	MemoryUsage(ctx context.Context) (float64, error)
}

const defaultStatusTimeout = 5 * time.Second

// HTTPStatusSource reads memory usage from a workload's status endpoint.
type HTTPStatusSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPStatusSource creates a status source for url.
func NewHTTPStatusSource(url string) *HTTPStatusSource {
	return &HTTPStatusSource{
		url:        url,
		httpClient: &http.Client{Timeout: defaultStatusTimeout},
	}
}

type statusResponse struct {
	MemoryUsage       float64 `json:"memory_usage"`
	MemorySpikeActive bool    `json:"memory_spike_active"`
}

// MemoryUsage returns the reported memory usage in bytes.
func (s *HTTPStatusSource) MemoryUsage(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating status request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, fmt.Errorf("decoding status response: %w", err)
	}
	return sr.MemoryUsage, nil
}

var _ StatusSource = (*HTTPStatusSource)(nil)
