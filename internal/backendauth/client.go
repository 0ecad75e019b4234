package backendauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
)

const (
	// CookieName is the better-auth session cookie.
	CookieName = "better-auth.session_token"

	// GetSessionPath is the session introspection endpoint.
	GetSessionPath = "/api/auth/get-session"

	// RefreshSessionPath is the session refresh endpoint.
	RefreshSessionPath = "/api/auth/refresh-session"

	// RefreshThreshold is how close to expiry a token must be to need refresh.
	RefreshThreshold = 5 * time.Minute

	// DefaultTimeout bounds every outbound call.
	DefaultTimeout = 10 * time.Second

	// maxBodySize caps how much of a backend response is read.
	maxBodySize = 1 << 20
)

var sessionCookiePattern = regexp.MustCompile(`better-auth\.session_token=([^;]+)`)

// ErrNoUser is returned by GetSession when the backend answers without a user.
var ErrNoUser = errors.New("backend session has no user")

// StatusError is returned by GetSession for non-2xx responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
}

// Config configures a Client.
type Config struct {
	// AuthURL is the better-auth base URL, e.g. https://auth.example.com.
	AuthURL string

	// Timeout bounds each call (default: DefaultTimeout).
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Client validates and refreshes better-auth session tokens.
type Client struct {
	authURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	now        func() time.Time
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("auth URL is required")
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
		authURL:    strings.TrimRight(cfg.AuthURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		logger:     logging.WithComponent(cfg.Logger, "backendauth"),
		metrics:    cfg.Metrics,
		now:        time.Now,
	}, nil
}

// AuthURL returns the configured backend base URL.
func (c *Client) AuthURL() string {
	return c.authURL
}

func (c *Client) newRequest(ctx context.Context, method, path, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.authURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", CookieName+"="+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// GetSession fetches the backend session for token.
func (c *Client) GetSession(ctx context.Context, token string) (*BackendSession, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := instrumentation.StartBackendSpan(ctx, instrumentation.ServiceAuth, instrumentation.OperationGetSession)
	defer span.End()

	start := time.Now()
	sess, err := c.getSession(ctx, token)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	}
	c.metrics.RecordBackendOperation(ctx, instrumentation.ServiceAuth, instrumentation.OperationGetSession, status, time.Since(start))

	return sess, err
}

func (c *Client) getSession(ctx context.Context, token string) (*BackendSession, error) {
	req, err := c.newRequest(ctx, http.MethodGet, GetSessionPath, token)
	if err != nil {
		return nil, fmt.Errorf("failed to build get-session request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get-session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var sess BackendSession
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&sess); err != nil {
		return nil, fmt.Errorf("failed to decode get-session response: %w", err)
	}
	if sess.User == nil {
		return nil, ErrNoUser
	}

	return &sess, nil
}

// Validate checks token against the backend. It never returns an error;
// any failure yields Valid=false.
func (c *Client) Validate(ctx context.Context, token string) ValidationResult {
	if token == "" {
		return ValidationResult{}
	}

	sess, err := c.GetSession(ctx, token)
	if err != nil {
		c.logger.Debug("session token rejected", logging.Err(err), slog.String("token", logging.SanitizeToken(token)))
		c.metrics.RecordTokenValidation(ctx, instrumentation.OAuthResultFailure)
		return ValidationResult{}
	}

	needsRefresh := NeedsRefresh(sess.Session.ExpiresAt.Time, c.now(), RefreshThreshold)
	if needsRefresh {
		c.metrics.RecordTokenValidation(ctx, instrumentation.OAuthResultExpired)
	} else {
		c.metrics.RecordTokenValidation(ctx, instrumentation.OAuthResultSuccess)
	}

	return ValidationResult{
		Valid:        true,
		Session:      sess,
		NeedsRefresh: needsRefresh,
	}
}

// Refresh asks the backend for a replacement token. The second return value
// is false on any failure.
func (c *Client) Refresh(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := instrumentation.StartBackendSpan(ctx, instrumentation.ServiceAuth, instrumentation.OperationRefreshSession)
	defer span.End()

	start := time.Now()
	newToken, err := c.refresh(ctx, token)

	if err != nil {
		instrumentation.SetSpanError(span, err)
		c.metrics.RecordBackendOperation(ctx, instrumentation.ServiceAuth, instrumentation.OperationRefreshSession, instrumentation.StatusError, time.Since(start))
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		c.logger.Debug("session refresh failed", logging.Err(err))
		return "", false
	}

	c.metrics.RecordBackendOperation(ctx, instrumentation.ServiceAuth, instrumentation.OperationRefreshSession, instrumentation.StatusSuccess, time.Since(start))
	c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	return newToken, true
}

func (c *Client) refresh(ctx context.Context, token string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, RefreshSessionPath, token)
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	newToken := TokenFromSetCookie(resp.Header.Values("Set-Cookie"))
	if newToken == "" {
		return "", errors.New("refresh response carried no session cookie")
	}
	return newToken, nil
}

// TokenFromSetCookie returns the first better-auth session token found in the
// given Set-Cookie header values.
func TokenFromSetCookie(values []string) string {
	for _, v := range values {
		if m := sessionCookiePattern.FindStringSubmatch(v); m != nil {
			return m[1]
		}
	}
	return ""
}

// NeedsRefresh reports whether a token expiring at expiresAt is within
// threshold of now. A zero expiry always needs refresh.
func NeedsRefresh(expiresAt, now time.Time, threshold time.Duration) bool {
	return expiresAt.Sub(now) < threshold
}
