package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/session"
)

// SessionValidator resolves a backend session token.
type SessionValidator interface {
	GetSession(ctx context.Context, token string) (*backendauth.BackendSession, error)
}

// StatusSource reports the user behind an MCP session, or nil when the
// session is not authenticated.
type StatusSource interface {
	Status(ctx context.Context, sessionID string) (*backendauth.User, error)
}

// Handler serves the discovery, registration and login endpoints.
type Handler struct {
	config      Config
	metadata    *Metadata
	store       session.Store
	validator   SessionValidator
	status      StatusSource
	flows       *FlowStore
	rateLimiter *RateLimiter // nil when rate limiting is disabled
	oauth2      *oauth2.Config
	audit       *AuditLogger
	metrics     *instrumentation.Metrics
	logger      *slog.Logger
}

// NewHandler creates a new OAuth handler. status may be nil, in which case
// the status endpoint only consults the session store.
func NewHandler(cfg Config, store session.Store, validator SessionValidator, status StatusSource) (*Handler, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("session validator is required")
	}

	logger := cfg.Logger.With("component", "oauth")

	var rateLimiter *RateLimiter
	if cfg.RateLimit.Rate > 0 {
		rateLimiter = NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.RateLimit.TrustProxy, cfg.RateLimit.CleanupInterval, logger)
		logger.Info("IP-based rate limiting enabled",
			"rate", cfg.RateLimit.Rate,
			"burst", cfg.RateLimit.Burst)
	}

	return &Handler{
		config:      cfg,
		metadata:    NewMetadata(cfg),
		store:       store,
		validator:   validator,
		status:      status,
		flows:       NewFlowStore(logger, DefaultFlowCleanupInterval),
		rateLimiter: rateLimiter,
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.BaseURL + PathCallback,
			Scopes:      cfg.Scopes,
		},
		audit:   NewAuditLogger(cfg.Logger),
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

// Metadata returns the discovery document generator.
func (h *Handler) Metadata() *Metadata {
	return h.metadata
}

// Config returns the effective configuration, defaults applied.
func (h *Handler) Config() Config {
	return h.config
}

// Close stops background cleanup.
func (h *Handler) Close() {
	h.flows.Stop()
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// RateLimit wraps next with the per-IP rate limiter, if one is configured.
// Requests over the limit get 429 with Retry-After.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	if h.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r, h.rateLimiter.trustProxy)

		if !h.rateLimiter.Allow(ip) {
			h.audit.LogRateLimitExceeded(ip)
			w.Header().Set("Retry-After", "1")
			h.writeError(w, ErrRateLimitExceeded(fmt.Sprintf("Rate limit exceeded for %s. Please try again later", ip)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register adds every endpoint to mux, rate limited.
func (h *Handler) Register(mux *http.ServeMux) {
	mcpPath := h.config.MCPPath

	asRoot := h.discovery(func() any { return h.metadata.AuthorizationServer(mcpPath) })
	asMCP := h.discovery(func() any { return h.metadata.AuthorizationServer("/mcp") })
	asAPI := h.discovery(func() any { return h.metadata.AuthorizationServer("/api/mcp") })

	prRoot := h.discovery(func() any { return h.metadata.ProtectedResource(mcpPath, PathAuthorizationServer) })
	prMCP := h.discovery(func() any {
		return h.metadata.ProtectedResource("/mcp", PathAuthorizationServer+"/mcp")
	})
	prAPI := h.discovery(func() any {
		return h.metadata.ProtectedResource("/api/mcp", "/api/mcp"+PathAuthorizationServer)
	})

	oidcRoot := h.discovery(func() any { return h.metadata.OpenIDConfiguration(mcpPath) })
	oidcMCP := h.discovery(func() any { return h.metadata.OpenIDConfiguration("/mcp") })
	oidcAPI := h.discovery(func() any { return h.metadata.OpenIDConfiguration("/api/mcp") })

	routes := map[string]http.Handler{
		PathAuthorizationServer:              asRoot,
		PathAuthorizationServer + "/mcp":     asMCP,
		"/api/mcp" + PathAuthorizationServer: asAPI,
		PathProtectedResource:                prRoot,
		PathProtectedResource + "/mcp":       prMCP,
		"/mcp" + PathProtectedResource:       prMCP,
		"/api/mcp" + PathProtectedResource:   prAPI,
		PathOpenIDConfiguration:              oidcRoot,
		PathOpenIDConfiguration + "/mcp":     oidcMCP,
		"/mcp" + PathOpenIDConfiguration:     oidcMCP,
		"/api/mcp" + PathOpenIDConfiguration: oidcAPI,
		PathMCPDiscovery:                     h.discovery(func() any { return h.metadata.Discovery() }),
		"/api/mcp" + PathMCPDiscovery:        h.discovery(func() any { return h.metadata.ServerInfo("/api/mcp") }),
		PathRegister:                         http.HandlerFunc(h.ServeRegistration),
		PathRegistrationAlias:                http.HandlerFunc(h.ServeRegistration),
		PathLogin:                            http.HandlerFunc(h.ServeLogin),
		PathCallback:                         http.HandlerFunc(h.ServeCallback),
		PathStatus:                           http.HandlerFunc(h.ServeStatus),
		"/{$}":                               http.HandlerFunc(h.ServeRoot),
	}

	for pattern, handler := range routes {
		mux.Handle(pattern, h.RateLimit(handler))
	}
}

// discovery serves a static JSON document on GET.
func (h *Handler) discovery(doc func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			h.writeError(w, NewOAuthError("invalid_request", "Method not allowed", http.StatusMethodNotAllowed))
			return
		}

		w.Header().Set("Cache-Control", DiscoveryCacheControl)
		h.writeJSON(w, http.StatusOK, doc())
	})
}

// setSecurityHeaders sets security headers on HTTP responses
func (h *Handler) setSecurityHeaders(w http.ResponseWriter) {
	setSecurityHeaders(w)

	// Only advertise HSTS when this server is reached over HTTPS.
	if u, err := url.Parse(h.config.BaseURL); err == nil && u.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, oerr *OAuthError) {
	h.logger.Debug("OAuth error", "code", oerr.Code, "description", oerr.Description, "status", oerr.Status)
	h.setSecurityHeaders(w)
	writeError(w, oerr)
}

// writeError writes an OAuth-style JSON error.
func writeError(w http.ResponseWriter, oerr *OAuthError) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(oerr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}
