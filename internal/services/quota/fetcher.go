package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/metrics"
)

const (
	fetchModelsPath = "/v1internal:fetchAvailableModels"

	// DefaultAttemptTimeout bounds a single endpoint attempt.
	DefaultAttemptTimeout = 15 * time.Second
)

var (
	// DefaultEndpoints are tried in order; they serve the same data.
	DefaultEndpoints = []string{
		"https://cloudcode-pa.googleapis.com",
		"https://daily-cloudcode-pa.sandbox.googleapis.com",
	}

	antigravityHeaders = map[string]string{
		"User-Agent":        "antigravity/1.11.5 windows/amd64",
		"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
	}
)

var (
	// ErrEmptyAccessToken is returned when a fetch is attempted without an access token.
	ErrEmptyAccessToken = errors.New("access token is empty")
	// ErrAllEndpointsFailed is returned when no endpoint produced a usable response.
	ErrAllEndpointsFailed = errors.New("all quota endpoints failed")
)

// QuotaInfo is the per-model quota block. Absent fields stay nil.
type QuotaInfo struct {
	RemainingFraction *float64 `json:"remainingFraction,omitempty"`
	ResetTime         *string  `json:"resetTime,omitempty"`
}

// ModelInfo is one entry of the fetchAvailableModels "models" map.
type ModelInfo struct {
	DisplayName *string    `json:"displayName,omitempty"`
	QuotaInfo   *QuotaInfo `json:"quotaInfo,omitempty"`
}

// FetchModelsResponse is the response body of fetchAvailableModels.
type FetchModelsResponse struct {
	Models map[string]ModelInfo `json:"models"`
}

// Fetcher retrieves raw model quotas, falling back across endpoints.
type Fetcher struct {
	client    *http.Client
	metrics   *metrics.Metrics
	endpoints []string
	timeout   time.Duration
}

// NewFetcher creates a fetcher over the default endpoints.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		client:    client,
		endpoints: DefaultEndpoints,
		timeout:   DefaultAttemptTimeout,
	}
}

// Fetch calls fetchAvailableModels on each endpoint in turn and returns the
// first successfully decoded response.
func (f *Fetcher) Fetch(ctx context.Context, accessToken, projectID string) (*FetchModelsResponse, error) {
	if accessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	body := []byte("{}")
	if projectID != "" {
		b, err := json.Marshal(map[string]string{"project": projectID})
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = b
	}

	var lastErr error
	for _, endpoint := range f.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAllEndpointsFailed, err)
		}

		resp, outcome, err := f.attempt(ctx, endpoint, accessToken, body)
		f.metrics.RecordEndpointAttempt(endpoint, outcome)
		if err != nil {
			logger.Warn("quota endpoint failed", "endpoint", endpoint, "outcome", outcome, "error", err)
			lastErr = err
			continue
		}
		return resp, nil
	}

	if lastErr == nil {
		return nil, ErrAllEndpointsFailed
	}
	return nil, fmt.Errorf("%w: %w", ErrAllEndpointsFailed, lastErr)
}

// attempt performs a single request with its own timeout. The returned
// outcome is a short label for logs and metrics.
func (f *Fetcher) attempt(ctx context.Context, endpoint, accessToken string, body []byte) (*FetchModelsResponse, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+fetchModelsPath, bytes.NewReader(body))
	if err != nil {
		return nil, "error", fmt.Errorf("failed to create quota request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range antigravityHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "timeout", fmt.Errorf("quota request timed out: %w", err)
		}
		return nil, "error", fmt.Errorf("quota request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "error", fmt.Errorf("failed to read quota response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, "rate_limited", fmt.Errorf("quota request rate limited (status %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "status", fmt.Errorf("quota request failed (status %d): %s", resp.StatusCode, string(data))
	}

	var modelsResp FetchModelsResponse
	if err := json.Unmarshal(data, &modelsResp); err != nil {
		return nil, "decode", fmt.Errorf("failed to parse quota response: %w", err)
	}

	return &modelsResp, "ok", nil
}
