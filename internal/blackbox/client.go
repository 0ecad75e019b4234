package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
)

const (
	// BuildAppPath starts an app build.
	BuildAppPath = "/api/mcp/build-app"

	// CreditsPath reports a user's credits.
	CreditsPath = "/api/mcp/credits"

	// DefaultTimeout bounds app API calls. Builds can be slow to acknowledge.
	DefaultTimeout = 30 * time.Second

	maxBodySize = 4 << 20
)

// APIError is returned for non-2xx responses from the app backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Config configures a Client.
type Config struct {
	// BaseURL is the app backend URL, e.g. https://app.example.com.
	BaseURL string

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *instrumentation.Metrics
}

// Client calls the app backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("app base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     logging.WithComponent(cfg.Logger, "blackbox"),
		metrics:    cfg.Metrics,
	}, nil
}

// BuildAppRequest is the build-app request body.
type BuildAppRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"userId"`
}

// BuildApp asks the backend to build an app from prompt on behalf of userID.
// The decoded response body is returned as-is.
func (c *Client) BuildApp(ctx context.Context, token, userID, prompt string) (map[string]any, error) {
	body, err := json.Marshal(BuildAppRequest{Prompt: prompt, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode build request: %w", err)
	}

	return c.do(ctx, instrumentation.OperationBuildApp, http.MethodPost, BuildAppPath, token, bytes.NewReader(body))
}

// Credits returns the credit balance for email.
func (c *Client) Credits(ctx context.Context, token, email string) (map[string]any, error) {
	path := CreditsPath + "?" + url.Values{"email": {email}}.Encode()
	return c.do(ctx, instrumentation.OperationCredits, http.MethodGet, path, token, nil)
}

func (c *Client) do(ctx context.Context, operation, method, path, token string, body io.Reader) (map[string]any, error) {
	ctx, span := instrumentation.StartBackendSpan(ctx, instrumentation.ServiceApp, operation)
	defer span.End()

	start := time.Now()
	result, err := c.roundTrip(ctx, method, path, token, body)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		c.logger.Debug("app backend call failed", logging.Operation(operation), logging.Err(err))
	}
	c.metrics.RecordBackendOperation(ctx, instrumentation.ServiceApp, operation, status, time.Since(start))

	return result, err
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body io.Reader) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", backendauth.CookieName+"="+token)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode)}
	}

	var result map[string]any
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

// errorMessage prefers the body's "error" then "message" field.
func errorMessage(raw []byte, status int) string {
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if s, ok := payload.Error.(string); ok && s != "" {
			return s
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}
