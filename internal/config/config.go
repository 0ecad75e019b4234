package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/session"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the complete mcpbridge configuration.
//
// Every field can be set from a YAML file (yaml tags) and from the
// environment (env tags). Environment values win over the file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Session   SessionConfig   `yaml:"session"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the public HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" env:"MCP_ADDR"`

	// BaseURL is the public URL clients reach this server at. It must use
	// HTTPS unless it points at a loopback host.
	BaseURL string `yaml:"base_url" env:"MCP_BASE_URL"`

	// MCPPath is the primary JSON-RPC endpoint. /api/mcp is always served too.
	MCPPath string `yaml:"mcp_path" env:"MCP_PATH"`

	// TrustProxy makes rate limiting key on X-Forwarded-For / X-Real-IP.
	TrustProxy bool `yaml:"trust_proxy" env:"MCP_TRUST_PROXY"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"MCP_SHUTDOWN_TIMEOUT"`
}

// BackendConfig points at the better-auth and app backends.
type BackendConfig struct {
	AuthURL string        `yaml:"auth_url" env:"BETTER_AUTH_URL"`
	AppURL  string        `yaml:"app_url" env:"BLACKBOX_APP_URL"`
	Timeout time.Duration `yaml:"timeout" env:"BACKEND_TIMEOUT"`
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	// Store is "memory" or "redis".
	Store string `yaml:"store" env:"SESSION_STORE"`

	// TTL applies when the backend does not report an expiry.
	TTL time.Duration `yaml:"ttl" env:"SESSION_TTL"`

	// SweepInterval is how often the memory store drops expired entries.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SESSION_SWEEP_INTERVAL"`
}

// OAuthConfig configures discovery documents and the login flow.
type OAuthConfig struct {
	AuthPageURL  string        `yaml:"auth_page_url" env:"MCP_AUTH_PAGE_URL"`
	AuthorizeURL string        `yaml:"authorize_url" env:"OAUTH_AUTHORIZE_URL"`
	TokenURL     string        `yaml:"token_url" env:"OAUTH_TOKEN_URL"`
	ClientID     string        `yaml:"client_id" env:"OAUTH_CLIENT_ID"`
	ClientSecret string        `yaml:"client_secret" env:"OAUTH_CLIENT_SECRET"`
	Scopes       []string      `yaml:"scopes" env:"OAUTH_SCOPES"`
	FlowTTL      time.Duration `yaml:"flow_ttl" env:"OAUTH_FLOW_TTL"`
}

// RateLimitConfig is the per-IP limit on public endpoints. Rate 0 disables it.
type RateLimitConfig struct {
	Rate            int           `yaml:"rate" env:"RATE_LIMIT_RATE"`
	Burst           int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"RATE_LIMIT_CLEANUP_INTERVAL"`
}

// RedisConfig is used when Session.Store is "redis".
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"SESSIONS_KEY_PREFIX"`
}

// MetricsConfig controls the dedicated Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Addr    string `yaml:"addr" env:"METRICS_ADDR"`
}

// TelemetryConfig selects the OpenTelemetry exporters and audit logging.
type TelemetryConfig struct {
	Enabled           bool    `yaml:"enabled" env:"INSTRUMENTATION_ENABLED"`
	ServiceName       string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	InstanceID        string  `yaml:"instance_id" env:"OTEL_SERVICE_INSTANCE_ID"`
	MetricsExporter   string  `yaml:"metrics_exporter" env:"METRICS_EXPORTER"`
	TracingExporter   string  `yaml:"tracing_exporter" env:"TRACING_EXPORTER"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure      bool    `yaml:"otlp_insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	TraceSamplingRate float64 `yaml:"trace_sampling_rate" env:"OTEL_TRACES_SAMPLER_ARG"`

	// DetailedLabels adds the caller's email domain to tool metrics.
	DetailedLabels bool `yaml:"detailed_labels" env:"METRICS_DETAILED_LABELS"`

	AuditEnabled    bool `yaml:"audit_enabled" env:"AUDIT_LOGGING_ENABLED"`
	AuditIncludePII bool `yaml:"audit_include_pii" env:"AUDIT_LOGGING_INCLUDE_PII"`
}

// Instrumentation converts t into the provider configuration.
func (t TelemetryConfig) Instrumentation(version string) instrumentation.Config {
	return instrumentation.Config{
		ServiceName:       t.ServiceName,
		ServiceVersion:    version,
		InstanceID:        t.InstanceID,
		Enabled:           t.Enabled,
		MetricsExporter:   t.MetricsExporter,
		TracingExporter:   t.TracingExporter,
		OTLPEndpoint:      t.OTLPEndpoint,
		OTLPInsecure:      t.OTLPInsecure,
		TraceSamplingRate: t.TraceSamplingRate,
		DetailedLabels:    t.DetailedLabels,
		AuditLogging: instrumentation.AuditLoggingConfig{
			Enabled:    t.AuditEnabled,
			IncludePII: t.AuditIncludePII,
		},
	}
}

// LoggingConfig selects the process log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the built-in configuration. BaseURL and the backend URLs
// have no sensible default and must be provided.
func Default() *Config {
	telemetry := instrumentation.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MCPPath:         "/mcp",
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			Store:         StoreMemory,
			TTL:           session.DefaultTTL,
			SweepInterval: session.DefaultSweepInterval,
		},
		OAuth: OAuthConfig{
			FlowTTL: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Rate:            10,
			Burst:           20,
			CleanupInterval: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: session.DefaultRedisKeyPrefix,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Telemetry: TelemetryConfig{
			Enabled:           telemetry.Enabled,
			ServiceName:       telemetry.ServiceName,
			MetricsExporter:   telemetry.MetricsExporter,
			TracingExporter:   telemetry.TracingExporter,
			TraceSamplingRate: telemetry.TraceSamplingRate,
			AuditEnabled:      telemetry.AuditLogging.Enabled,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped
// when path is empty) and the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables. Unset variables leave the
// current value untouched.
func (c *Config) loadEnv() error {
	err := envdecode.Decode(c)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error

	if err := ValidateBaseURL(c.Server.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if !strings.HasPrefix(c.Server.MCPPath, "/") {
		errs = append(errs, fmt.Errorf("mcp path must start with /: %q", c.Server.MCPPath))
	}

	if err := requireAbsoluteURL("backend auth URL", c.Backend.AuthURL); err != nil {
		errs = append(errs, err)
	}
	if err := requireAbsoluteURL("backend app URL", c.Backend.AppURL); err != nil {
		errs = append(errs, err)
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis address is required for the redis session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session store %q (want %s or %s)", c.Session.Store, StoreMemory, StoreRedis))
	}

	for name, d := range map[string]time.Duration{
		"backend timeout":        c.Backend.Timeout,
		"session ttl":            c.Session.TTL,
		"session sweep interval": c.Session.SweepInterval,
		"oauth flow ttl":         c.OAuth.FlowTTL,
		"shutdown timeout":       c.Server.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %s)", name, d))
		}
	}

	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit rate and burst must not be negative"))
	}

	if err := c.Telemetry.Instrumentation("").Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

// ValidateBaseURL requires HTTPS, except for loopback hosts used in development.
func ValidateBaseURL(baseURL string) error {
	if baseURL == "" {
		return errors.New("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if !isLoopback(u.Hostname()) {
			return fmt.Errorf("base URL must use HTTPS for non-local hosts (got: %s)", baseURL)
		}
		return nil
	default:
		return fmt.Errorf("invalid URL scheme %q: must be http (localhost only) or https", u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func requireAbsoluteURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL (got %q)", name, raw)
	}
	return nil
}
