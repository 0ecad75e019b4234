package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/blackbox"
	"github.com/teemow/mcpbridge/internal/config"
	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/mcp/dispatcher"
	"github.com/teemow/mcpbridge/internal/mcp/oauth"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/tools"
	"github.com/teemow/mcpbridge/internal/tools/blackbox_tools"
	"github.com/teemow/mcpbridge/internal/tools/common"
)

// redisPingTimeout bounds the startup connectivity check.
const redisPingTimeout = 5 * time.Second

// AppConfig is everything NewApp needs beyond the loaded configuration.
type AppConfig struct {
	Config  *config.Config
	Version string

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger

	// RedisClient replaces the client built from Config.Redis.
	RedisClient redis.UniversalClient
}

// App is the wired server: session store, backend clients, tools, the OAuth
// handler and the MCP dispatcher behind one HTTP listener.
type App struct {
	Context    *ServerContext
	Health     *HealthChecker
	HTTP       *HTTPServer
	OAuth      *oauth.Handler
	Dispatcher *dispatcher.Dispatcher
	Tools      *tools.Registry
}

// NewApp builds every component from cfg. On error nothing is left running.
func NewApp(ctx context.Context, cfg AppConfig) (*App, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := cfg.Config

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sc, err := NewServerContext(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	app, err := wire(sc, cfg)
	if err != nil {
		_ = sc.Shutdown()
		return nil, err
	}

	cfg.Logger.Info("server components initialized",
		"session_store", c.Session.Store,
		"mcp_path", c.Server.MCPPath,
		"tools", app.Tools.Names())
	return app, nil
}

func wire(sc *ServerContext, cfg AppConfig) (*App, error) {
	c := cfg.Config

	authClient, err := backendauth.New(backendauth.Config{
		AuthURL: c.Backend.AuthURL,
		Timeout: c.Backend.Timeout,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backend auth client: %w", err)
	}

	appClient, err := blackbox.New(blackbox.Config{
		BaseURL: c.Backend.AppURL,
		Timeout: c.Backend.Timeout,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create app client: %w", err)
	}

	registry, err := tools.NewRegistry(blackbox_tools.Tools(appClient, authClient, common.Instrumentation{
		Metrics: cfg.Metrics,
		Audit:   cfg.Audit,
		Logger:  cfg.Logger,
	})...)
	if err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	// The resolver needs login URLs from the OAuth metadata, and the OAuth
	// status endpoint needs the resolver. Login URLs are only built while
	// serving, after both exist.
	var oauthHandler *oauth.Handler
	resolver, err := dispatcher.NewResolver(dispatcher.ResolverConfig{
		Store:      sc.Store(),
		Validator:  authClient,
		AuthURL:    func(sessionID string) string { return oauthHandler.Metadata().AuthURL(sessionID) },
		DefaultTTL: c.Session.TTL,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session resolver: %w", err)
	}

	oauthHandler, err = oauth.NewHandler(oauth.Config{
		BaseURL:        c.Server.BaseURL,
		AuthPageURL:    c.OAuth.AuthPageURL,
		BackendAuthURL: c.Backend.AuthURL,
		AuthorizeURL:   c.OAuth.AuthorizeURL,
		TokenURL:       c.OAuth.TokenURL,
		MCPPath:        c.Server.MCPPath,
		Scopes:         c.OAuth.Scopes,
		ClientID:       c.OAuth.ClientID,
		ClientSecret:   c.OAuth.ClientSecret,
		ServerVersion:  cfg.Version,
		FlowTTL:        c.OAuth.FlowTTL,
		SessionTTL:     c.Session.TTL,
		RateLimit: oauth.RateLimitConfig{
			Rate:            c.RateLimit.Rate,
			Burst:           c.RateLimit.Burst,
			CleanupInterval: c.RateLimit.CleanupInterval,
			TrustProxy:      c.Server.TrustProxy,
		},
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	}, sc.Store(), authClient, resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth handler: %w", err)
	}

	d, err := dispatcher.New(dispatcher.Config{
		Resolver:      resolver,
		Tools:         registry,
		Metadata:      oauthHandler.Metadata(),
		ServerVersion: cfg.Version,
		Logger:        cfg.Logger,
		Metrics:       cfg.Metrics,
	})
	if err != nil {
		oauthHandler.Close()
		return nil, fmt.Errorf("failed to create MCP dispatcher: %w", err)
	}

	health := NewHealthChecker(sc)

	httpServer, err := NewHTTPServer(HTTPServerConfig{
		Addr:    c.Server.Addr,
		MCPPath: c.Server.MCPPath,
		OAuth:   oauthHandler,
		MCP:     d.Handler,
		Health:  health,
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,
	})
	if err != nil {
		oauthHandler.Close()
		return nil, err
	}

	return &App{
		Context:    sc,
		Health:     health,
		HTTP:       httpServer,
		OAuth:      oauthHandler,
		Dispatcher: d,
		Tools:      registry,
	}, nil
}

// Close releases background workers and the session store.
func (a *App) Close() error {
	a.Health.SetReady(false)
	a.OAuth.Close()
	return a.Context.Shutdown()
}

func newStore(ctx context.Context, cfg AppConfig) (session.Store, error) {
	c := cfg.Config

	var observer session.Observer
	if cfg.Metrics != nil {
		observer = cfg.Metrics
	}

	switch c.Session.Store {
	case config.StoreMemory:
		return session.NewMemoryStore(
			session.WithSweepInterval(c.Session.SweepInterval),
			session.WithLogger(cfg.Logger),
			session.WithObserver(observer),
		), nil

	case config.StoreRedis:
		client := cfg.RedisClient
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     c.Redis.Addr,
				Password: c.Redis.Password,
				DB:       c.Redis.DB,
			})
		}

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", c.Redis.Addr, err)
		}

		store, err := session.NewRedisStore(session.RedisConfig{
			Client:    client,
			KeyPrefix: c.Redis.KeyPrefix,
			Logger:    cfg.Logger,
		})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown session store %q", c.Session.Store)
	}
}
