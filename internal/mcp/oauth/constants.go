package oauth

import "time"

const (
	// DefaultFlowTTL is how long a pending login may take to complete.
	DefaultFlowTTL = 10 * time.Minute

	// DefaultFlowCleanupInterval is how often expired pending logins are dropped.
	DefaultFlowCleanupInterval = 1 * time.Minute

	// DefaultRateLimitCleanupInterval is how often to cleanup inactive rate limiters
	DefaultRateLimitCleanupInterval = 5 * time.Minute

	// InactiveLimiterCleanupWindow is the time after which inactive limiters are removed
	InactiveLimiterCleanupWindow = 10 * time.Minute

	// DefaultRateLimitRate is the default requests per second per IP
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the default burst size for rate limiting
	DefaultRateLimitBurst = 20

	// DiscoveryCacheControl is sent with every discovery document.
	DiscoveryCacheControl = "public, max-age=3600"
)

// MCP protocol and server identity.
const (
	ProtocolVersion = "2024-11-05"

	DefaultServerName        = "mcpbridge"
	DefaultServerVersion     = "1.0.0"
	DefaultServerDescription = "MCP server with OAuth authentication"
)

// Query parameters and cookies shared with the browser login flow.
const (
	ParamSessionID    = "mcp_session_id"
	ParamAuthRequired = "mcp_auth_required"
	ParamAuthSuccess  = "auth_success"
	ParamError        = "error"
)

// Callback error codes reported to the UI.
const (
	CallbackErrorNoSession      = "no_session"
	CallbackErrorInvalidSession = "invalid_session"
	CallbackErrorFailed         = "callback_failed"
)

// Endpoint paths served by Handler.
const (
	PathAuthorizationServer = "/.well-known/oauth-authorization-server"
	PathProtectedResource   = "/.well-known/oauth-protected-resource"
	PathOpenIDConfiguration = "/.well-known/openid-configuration"
	PathMCPDiscovery        = "/.well-known/mcp.json"
	PathRegistrationAlias   = "/.well-known/oauth-registration"

	PathRegister = "/api/auth/oauth/register"
	PathLogin    = "/api/auth/login"
	PathCallback = "/api/auth/mcp-callback"
	PathStatus   = "/api/auth/status"
)

// Backend endpoint paths advertised in discovery documents.
const (
	BackendAuthorizePath  = "/api/auth/oauth"
	BackendTokenPath      = "/api/auth/token"
	BackendUserinfoPath   = "/api/auth/userinfo"
	BackendJWKSPath       = "/api/auth/jwks"
	BackendIntrospectPath = "/api/auth/introspect"
)

// Client registration defaults.
const (
	DefaultClientName              = "ChatGPT MCP Client"
	DefaultTokenEndpointAuthMethod = "client_secret_post"
	DefaultClientScope             = "openid profile email"
	ClientIDPrefix                 = "mcp_"
)

// Redirect URI validation constants
var (
	// DangerousSchemes lists URI schemes that must never be allowed for security
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

	// LoopbackAddresses lists recognized loopback addresses for development
	LoopbackAddresses = []string{"localhost", "127.0.0.1", "::1", "[::1]"}
)

// OAuth grant types and response types
var (
	DefaultScopes = []string{"openid", "profile", "email"}

	DefaultGrantTypes = []string{"authorization_code", "refresh_token"}

	DefaultResponseTypes = []string{"code"}

	// SupportedCodeChallengeMethods only lists S256; "plain" is not allowed by OAuth 2.1.
	SupportedCodeChallengeMethods = []string{"S256"}

	SupportedTokenAuthMethods = []string{"client_secret_basic", "client_secret_post"}

	SupportedClaims = []string{"sub", "name", "email", "email_verified", "picture"}
)
