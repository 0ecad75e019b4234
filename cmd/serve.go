package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/mcpbridge/internal/config"
	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/server"
)

// serveOptions holds the serve flags. A flag only overrides the loaded
// configuration when the user set it explicitly.
type serveOptions struct {
	configFile string
	debug      bool

	httpAddr   string
	baseURL    string
	mcpPath    string
	trustProxy bool

	authURL        string
	appURL         string
	authPageURL    string
	oauthClientID  string
	oauthSecret    string
	oauthScopes    []string
	sessionStore   string
	redisAddr      string
	redisPassword  string
	redisDB        int
	rateLimit      int
	rateLimitBurst int

	metricsEnabled bool
	metricsAddr    string
	logFormat      string
}

func newServeCmd() *cobra.Command {
	return newServeCommand(&serveOptions{})
}

func newServeCommand(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP HTTP server.

The JSON-RPC endpoint is served at /mcp (configurable) and /api/mcp. OAuth
discovery documents, dynamic client registration and the login flow are
served next to it.

Configuration is read from, in increasing precedence:
  - built-in defaults
  - a YAML file given with --config
  - environment variables (MCP_BASE_URL, BETTER_AUTH_URL, BLACKBOX_APP_URL,
    SESSION_STORE, REDIS_ADDR, ...)
  - flags set on the command line

Sessions are kept in memory by default. Use --session-store redis to share
them between replicas.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "Path to a YAML configuration file")
	f.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	f.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json. Can also use LOG_FORMAT env var.")

	f.StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address. Can also use MCP_ADDR env var.")
	f.StringVar(&opts.baseURL, "base-url", "", "Public base URL of this server. Required. Can also use MCP_BASE_URL env var. Example: https://mcp.example.com")
	f.StringVar(&opts.mcpPath, "mcp-path", "/mcp", "Path of the primary MCP endpoint. Can also use MCP_PATH env var.")
	f.BoolVar(&opts.trustProxy, "trust-proxy", false, "Trust X-Forwarded-For and X-Real-IP for rate limiting. Only enable behind a trusted proxy.")

	f.StringVar(&opts.authURL, "auth-url", "", "better-auth backend URL. Required. Can also use BETTER_AUTH_URL env var.")
	f.StringVar(&opts.appURL, "app-url", "", "App backend URL. Required. Can also use BLACKBOX_APP_URL env var.")
	f.StringVar(&opts.authPageURL, "auth-page-url", "", "Login page users are sent to (default: base URL). Can also use MCP_AUTH_PAGE_URL env var.")
	f.StringVar(&opts.oauthClientID, "oauth-client-id", "", "Client ID presented to the backend authorization endpoint. Can also use OAUTH_CLIENT_ID env var.")
	f.StringVar(&opts.oauthSecret, "oauth-client-secret", "", "Client secret presented to the backend token endpoint. Can also use OAUTH_CLIENT_SECRET env var.")
	f.StringSliceVar(&opts.oauthScopes, "oauth-scopes", nil, "Scopes advertised and requested during login (default: openid,profile,email). Can also use OAUTH_SCOPES env var.")

	f.StringVar(&opts.sessionStore, "session-store", config.StoreMemory, "Session store: memory or redis. Can also use SESSION_STORE env var.")
	f.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "Redis address for the redis session store. Can also use REDIS_ADDR env var.")
	f.StringVar(&opts.redisPassword, "redis-password", "", "Redis password. Can also use REDIS_PASSWORD env var.")
	f.IntVar(&opts.redisDB, "redis-db", 0, "Redis database number. Can also use REDIS_DB env var.")

	f.IntVar(&opts.rateLimit, "rate-limit", 10, "Requests per second allowed per client IP (0 disables). Can also use RATE_LIMIT_RATE env var.")
	f.IntVar(&opts.rateLimitBurst, "rate-limit-burst", 20, "Burst size per client IP. Can also use RATE_LIMIT_BURST env var.")

	f.BoolVar(&opts.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&opts.metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// loadServeConfig resolves the configuration and validates it.
func loadServeConfig(cmd *cobra.Command, opts *serveOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}

	applyFlagOverrides(cmd, opts, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlagOverrides copies explicitly set flags into cfg. Flags left at their
// defaults never override the file or the environment.
func applyFlagOverrides(cmd *cobra.Command, opts *serveOptions, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}
	if changed("http-addr") {
		cfg.Server.Addr = opts.httpAddr
	}
	if changed("base-url") {
		cfg.Server.BaseURL = opts.baseURL
	}
	if changed("mcp-path") {
		cfg.Server.MCPPath = opts.mcpPath
	}
	if changed("trust-proxy") {
		cfg.Server.TrustProxy = opts.trustProxy
	}
	if changed("auth-url") {
		cfg.Backend.AuthURL = opts.authURL
	}
	if changed("app-url") {
		cfg.Backend.AppURL = opts.appURL
	}
	if changed("auth-page-url") {
		cfg.OAuth.AuthPageURL = opts.authPageURL
	}
	if changed("oauth-client-id") {
		cfg.OAuth.ClientID = opts.oauthClientID
	}
	if changed("oauth-client-secret") {
		cfg.OAuth.ClientSecret = opts.oauthSecret
	}
	if changed("oauth-scopes") {
		cfg.OAuth.Scopes = opts.oauthScopes
	}
	if changed("session-store") {
		cfg.Session.Store = opts.sessionStore
	}
	if changed("redis-addr") {
		cfg.Redis.Addr = opts.redisAddr
	}
	if changed("redis-password") {
		cfg.Redis.Password = opts.redisPassword
	}
	if changed("redis-db") {
		cfg.Redis.DB = opts.redisDB
	}
	if changed("rate-limit") {
		cfg.RateLimit.Rate = opts.rateLimit
	}
	if changed("rate-limit-burst") {
		cfg.RateLimit.Burst = opts.rateLimitBurst
	}
	if changed("metrics-enabled") {
		cfg.Metrics.Enabled = opts.metricsEnabled
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
}

func runServe(cfg *config.Config) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	instrConfig := cfg.Telemetry.Instrumentation(version)
	instrConfig.Logger = logger

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("Error during instrumentation shutdown", logging.Err(err))
		}
	}()

	app, err := server.NewApp(ctx, server.AppConfig{
		Config:  cfg,
		Version: version,
		Logger:  logger,
		Metrics: provider.Metrics(),
		Audit:   instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Error closing server", logging.Err(err))
		}
	}()

	// The metrics listener only makes sense for the prometheus exporter.
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.ServesPrometheus() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	logger.Info("mcpbridge starting",
		"version", version,
		"addr", cfg.Server.Addr,
		"base_url", cfg.Server.BaseURL,
		"mcp_paths", []string{cfg.Server.MCPPath, server.APIMCPPath},
		"backend", cfg.Backend.AuthURL,
		"session_store", cfg.Session.Store)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(app.HTTP.Start)
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, stopping servers")
		app.Health.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := app.HTTP.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down HTTP server: %w", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("error shutting down metrics server: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Servers gracefully stopped")
	return nil
}
