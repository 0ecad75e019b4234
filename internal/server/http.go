package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/mcp/oauth"
)

// APIMCPPath is the secondary MCP endpoint served next to the configured one.
const APIMCPPath = "/api/mcp"

const (
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout leaves room for slow tool calls such as app builds.
	DefaultWriteTimeout = 2 * time.Minute
	DefaultIdleTimeout  = 120 * time.Second
)

// MCPHandlerFunc builds the JSON-RPC handler for one endpoint path. The path
// is echoed in discovery responses.
type MCPHandlerFunc func(mcpPath string) http.Handler

// HTTPServerConfig wires the public listener.
type HTTPServerConfig struct {
	Addr string

	// MCPPath is the primary MCP endpoint (default "/mcp").
	MCPPath string

	// OAuth serves discovery, registration and the login flow. It also
	// provides the per-IP rate limiter wrapped around the MCP endpoints.
	OAuth *oauth.Handler

	// MCP builds the MCP endpoint handlers.
	MCP MCPHandlerFunc

	// Health is optional; when set /healthz, /readyz and /healthz/detailed
	// are served on the public listener.
	Health *HealthChecker

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// HTTPServer is the public listener: MCP endpoints, OAuth endpoints and
// health checks behind request metrics.
type HTTPServer struct {
	httpServer *http.Server
	handler    http.Handler
	addr       string
	logger     *slog.Logger
}

// NewHTTPServer builds the route table. Nothing listens until Start.
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	if cfg.OAuth == nil {
		return nil, fmt.Errorf("oauth handler is required")
	}
	if cfg.MCP == nil {
		return nil, fmt.Errorf("mcp handler is required")
	}
	if cfg.MCPPath == "" {
		cfg.MCPPath = "/mcp"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	cfg.OAuth.Register(mux)

	mux.Handle(cfg.MCPPath, cfg.OAuth.RateLimit(cfg.MCP(cfg.MCPPath)))
	if cfg.MCPPath != APIMCPPath {
		mux.Handle(APIMCPPath, cfg.OAuth.RateLimit(cfg.MCP(APIMCPPath)))
	}

	if cfg.Health != nil {
		cfg.Health.RegisterHealthEndpoints(mux)
	}

	handler := requestMetrics(cfg.Metrics, mux)

	return &HTTPServer{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
		handler: handler,
		addr:    cfg.Addr,
		logger:  cfg.Logger,
	}, nil
}

// Handler returns the complete route table including the metrics middleware.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string {
	return s.addr
}

// Start serves until Shutdown is called, which makes it return nil.
func (s *HTTPServer) Start() error {
	s.logger.Info("starting MCP server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down MCP server")
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestMetrics records every request by its matched route pattern, which
// keeps the path label bounded.
func requestMetrics(metrics *instrumentation.Metrics, next http.Handler) http.Handler {
	if metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, time.Since(start))
	})
}
