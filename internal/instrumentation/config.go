package instrumentation

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultServiceName is reported as service.name unless overridden.
const DefaultServiceName = "mcpbridge"

// Config selects the exporters behind NewProvider. Values come from the
// telemetry section of the process configuration; this package does not
// read the environment itself.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// InstanceID is reported as service.instance.id (default: hostname).
	InstanceID string

	// Enabled false yields a provider whose Metrics records nothing.
	Enabled bool

	// MetricsExporter is prometheus, otlp or stdout.
	MetricsExporter string

	// TracingExporter is otlp, stdout or none.
	TracingExporter string

	// OTLPEndpoint is host:port of the collector, without a scheme.
	OTLPEndpoint string

	// OTLPInsecure sends OTLP over plain HTTP.
	OTLPInsecure bool

	// TraceSamplingRate is the parent based ratio in [0, 1].
	TraceSamplingRate float64

	// DetailedLabels attaches the caller's email domain to tool metrics.
	DetailedLabels bool

	AuditLogging AuditLoggingConfig

	// Logger receives warnings about development-only exporters.
	Logger *slog.Logger
}

// AuditLoggingConfig controls the tool audit log.
type AuditLoggingConfig struct {
	Enabled bool

	// IncludePII logs full email addresses instead of their domain.
	IncludePII bool
}

// DefaultConfig returns the configuration used when nothing is set:
// prometheus metrics, no tracing, audit logging without PII.
func DefaultConfig() Config {
	return Config{
		ServiceName:       DefaultServiceName,
		ServiceVersion:    "unknown",
		Enabled:           true,
		MetricsExporter:   ExporterPrometheus,
		TracingExporter:   ExporterNone,
		TraceSamplingRate: 0.1,
		AuditLogging:      AuditLoggingConfig{Enabled: true},
	}
}

// Validate reports every problem with c at once. A disabled config is
// always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %g", c.TraceSamplingRate))
	}

	switch c.MetricsExporter {
	case ExporterPrometheus, ExporterStdout:
	case ExporterOTLP:
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP endpoint is required for the otlp metrics exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter))
	}

	switch c.TracingExporter {
	case ExporterNone, ExporterStdout:
	case ExporterOTLP:
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP endpoint is required for the otlp tracing exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter))
	}

	return errors.Join(errs...)
}

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	OAuthResultSuccess = "success"
	OAuthResultFailure = "failure"
	OAuthResultExpired = "expired"

	// Backend services
	ServiceAuth = "auth"
	ServiceApp  = "app"
)

// Exporter names.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)
