package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/iotgrid/hub/internal/config"
)

// apiKeyHeader authenticates the hub against the Cloud API.
const apiKeyHeader = "X-Hub-ApiKey"

// HTTPClient is the HTTP implementation of Client. Transient failures
// (network errors, timeouts, 5xx responses) are retried up to the
// configured count with a fixed delay between attempts.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	enabled    bool
	retryCount int
	retryDelay time.Duration
	httpClient *http.Client
}

// NewHTTPClient creates a Cloud API client from configuration.
func NewHTTPClient(cfg config.CloudConfig) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		enabled:    cfg.Enabled,
		retryCount: cfg.RetryCount,
		retryDelay: time.Duration(cfg.RetryDelay),
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout)},
	}
}

// IsConfigured reports whether sync is enabled and both the base URL
// and API key are present.
func (c *HTTPClient) IsConfigured() bool {
	return c.enabled && c.baseURL != "" && c.apiKey != ""
}

// TestConnection checks the Cloud health endpoint. Never retries;
// reachability probes should answer fast.
func (c *HTTPClient) TestConnection(ctx context.Context) bool {
	if !c.IsConfigured() {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("cloud health check failed",
			"component", "cloud",
			"base_url", c.baseURL,
			"error", err,
		)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// UpsertNode pushes node identity and metadata to the Cloud.
func (c *HTTPClient) UpsertNode(ctx context.Context, req NodeSync) (*NodeSyncResponse, error) {
	var resp NodeSyncResponse
	if err := c.postJSON(ctx, "/api/hub-sync/nodes", req, &resp); err != nil {
		return nil, fmt.Errorf("upsert node %s: %w", req.HardwareID, err)
	}
	return &resp, nil
}

// UpsertSensors pushes all sensor records for a node in one call.
func (c *HTTPClient) UpsertSensors(ctx context.Context, req SensorsSync) (*SensorsSyncResponse, error) {
	var resp SensorsSyncResponse
	path := fmt.Sprintf("/api/hub-sync/nodes/%s/sensors", req.NodeCloudID)
	if err := c.postJSON(ctx, path, req, &resp); err != nil {
		return nil, fmt.Errorf("upsert %d sensors: %w", len(req.Sensors), err)
	}
	return &resp, nil
}

// UploadReadings pushes one batch of readings. An empty response body
// is treated as full acceptance, matching the Cloud API contract.
func (c *HTTPClient) UploadReadings(ctx context.Context, req ReadingsBatch) (*ReadingsResponse, error) {
	resp := ReadingsResponse{AcceptedCount: -1}
	path := fmt.Sprintf("/api/hub-sync/nodes/%s/readings", req.NodeCloudID)
	if err := c.postJSON(ctx, path, req, &resp); err != nil {
		return nil, fmt.Errorf("upload %d readings: %w", len(req.Readings), err)
	}
	if resp.AcceptedCount < 0 {
		resp = ReadingsResponse{AcceptedCount: len(req.Readings)}
	}
	return &resp, nil
}

// postJSON sends a JSON POST with retry and decodes the JSON response
// into out. Decoding is skipped for empty bodies.
func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	data, err := c.doWithRetry(ctx, path, payload)
	if err != nil {
		return err
	}

	if len(data) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doWithRetry executes the request, retrying transient failures with a
// fixed delay. Context cancellation aborts immediately and is never
// retried.
func (c *HTTPClient) doWithRetry(ctx context.Context, path string, payload []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying cloud request",
				"component", "cloud",
				"path", path,
				"attempt", attempt,
				"max_retries", c.retryCount,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		data, retryable, err := c.doOnce(ctx, path, payload)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// doOnce executes a single attempt and classifies the failure.
func (c *HTTPClient) doOnce(ctx context.Context, path string, payload []byte) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and client timeouts are transient.
		return nil, true, fmt.Errorf("cloud request: %w", err)
	}
	defer resp.Body.Close()

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("cloud returned %d: %s", resp.StatusCode, truncate(data, 200))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("cloud returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	return data, false, nil
}

func truncate(data []byte, max int) string {
	s := string(data)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
