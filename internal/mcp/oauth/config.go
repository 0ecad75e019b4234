package oauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/session"
)

// Config holds the OAuth handler configuration
type Config struct {
	// BaseURL is the public URL of this server. It is the issuer and the
	// base of every endpoint this server advertises.
	BaseURL string

	// AuthPageURL is where users are sent to log in. The MCP session id and
	// the auth-required flag are appended as query parameters.
	// Default: BaseURL + "/"
	AuthPageURL string

	// BackendAuthURL is the better-auth backend URL. Its token, userinfo and
	// JWKS endpoints are advertised in discovery documents.
	BackendAuthURL string

	// AuthorizeURL is the backend authorization endpoint the login flow
	// redirects to.
	// Default: BackendAuthURL + "/api/auth/oauth"
	AuthorizeURL string

	// TokenURL is the backend token endpoint used to exchange codes.
	// Default: BackendAuthURL + "/api/auth/token"
	TokenURL string

	// MCPPath is the path of the primary MCP endpoint.
	// Default: "/mcp"
	MCPPath string

	// Scopes advertised and requested during login.
	// Default: openid, profile, email
	Scopes []string

	// ClientID and ClientSecret identify this server to the backend
	// authorization endpoint. Both are optional.
	ClientID     string
	ClientSecret string

	ServerName        string
	ServerVersion     string
	ServerDescription string

	// FlowTTL bounds how long a pending login stays valid.
	// Default: 10 minutes
	FlowTTL time.Duration

	// SessionTTL is the session lifetime used when the backend reports no expiry.
	// Default: session.DefaultTTL
	SessionTTL time.Duration

	RateLimit RateLimitConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Metrics records login outcomes (optional)
	Metrics *instrumentation.Metrics

	// HTTPClient is used for the code exchange with the backend.
	HTTPClient *http.Client
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is the number of requests per second allowed per IP (0 = no limit)
	Rate int

	// Burst is the maximum burst size allowed per IP
	Burst int

	// CleanupInterval is how often to cleanup inactive rate limiters
	// Default: 5 minutes
	CleanupInterval time.Duration

	// TrustProxy indicates whether to trust X-Forwarded-For and X-Real-IP headers
	// Only set to true if the server is behind a trusted proxy
	TrustProxy bool
}

// withDefaults validates c and fills in defaults.
func (c Config) withDefaults() (Config, error) {
	if c.BaseURL == "" {
		return c, fmt.Errorf("base URL is required")
	}
	if err := requireHTTPS("base URL", c.BaseURL); err != nil {
		return c, err
	}
	if c.BackendAuthURL == "" {
		return c, fmt.Errorf("backend auth URL is required")
	}

	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.BackendAuthURL = strings.TrimRight(c.BackendAuthURL, "/")

	if c.AuthPageURL == "" {
		c.AuthPageURL = c.BaseURL + "/"
	}
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = c.BackendAuthURL + BackendAuthorizePath
	}
	if c.TokenURL == "" {
		c.TokenURL = c.BackendAuthURL + BackendTokenPath
	}
	if c.MCPPath == "" {
		c.MCPPath = "/mcp"
	}
	if !strings.HasPrefix(c.MCPPath, "/") {
		c.MCPPath = "/" + c.MCPPath
	}
	if len(c.Scopes) == 0 {
		c.Scopes = DefaultScopes
	}
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	if c.ServerVersion == "" {
		c.ServerVersion = DefaultServerVersion
	}
	if c.ServerDescription == "" {
		c.ServerDescription = DefaultServerDescription
	}
	if c.FlowTTL <= 0 {
		c.FlowTTL = DefaultFlowTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = session.DefaultTTL
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.Rate * 2
	}
	if c.RateLimit.CleanupInterval == 0 {
		c.RateLimit.CleanupInterval = DefaultRateLimitCleanupInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return c, nil
}

// requireHTTPS allows plain HTTP only for loopback hosts.
func requireHTTPS(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme == "https" {
		return nil
	}
	if u.Scheme == "http" && isLoopback(u.Hostname()) {
		return nil
	}
	return fmt.Errorf("%s must use HTTPS in production (got %s://)", name, u.Scheme)
}

// isLoopback checks if a hostname is a loopback address
func isLoopback(hostname string) bool {
	hostname = strings.Trim(hostname, "[]")
	for _, loopback := range LoopbackAddresses {
		if hostname == loopback {
			return true
		}
	}
	return strings.HasPrefix(hostname, "127.")
}
