package oauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/mcpbridge/internal/logging"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	AuditEventLoginStarted      AuditEventType = "login_started"
	AuditEventAuthSuccess       AuditEventType = "auth_success"
	AuditEventAuthFailure       AuditEventType = "auth_failure"
	AuditEventClientRegistered  AuditEventType = "client_registered"
	AuditEventInvalidRedirect   AuditEventType = "invalid_redirect"
	AuditEventRateLimitExceeded AuditEventType = "rate_limit_exceeded"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	Timestamp time.Time
	EventType AuditEventType

	// SessionID and UserEmail are hashed before logging.
	SessionID string
	UserEmail string

	ClientID  string
	IPAddress string
	Success   bool
	Reason    string
}

// AuditLogger logs login and registration events. Emails and session ids
// never reach the log in clear text.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger.With("component", "oauth_audit")}
}

// LogEvent logs an audit event with structured logging
func (a *AuditLogger) LogEvent(event AuditEvent) {
	if a == nil {
		return
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("event_type", string(event.EventType)),
		slog.Time("timestamp", event.Timestamp),
		slog.Bool("success", event.Success),
	}
	if event.SessionID != "" {
		attrs = append(attrs, logging.SessionID(event.SessionID))
	}
	if event.UserEmail != "" {
		attrs = append(attrs, logging.UserHash(event.UserEmail))
	}
	if event.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", event.ClientID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}

	a.logger.LogAttrs(context.Background(), level, "audit_event", attrs...)
}

// LogLoginStarted logs the start of a login flow.
func (a *AuditLogger) LogLoginStarted(sessionID, ipAddress string) {
	a.LogEvent(AuditEvent{EventType: AuditEventLoginStarted, SessionID: sessionID, IPAddress: ipAddress, Success: true})
}

// LogAuthSuccess logs an MCP session being bound to a backend session.
func (a *AuditLogger) LogAuthSuccess(sessionID, userEmail, ipAddress string) {
	a.LogEvent(AuditEvent{
		EventType: AuditEventAuthSuccess,
		SessionID: sessionID,
		UserEmail: userEmail,
		IPAddress: ipAddress,
		Success:   true,
	})
}

// LogAuthFailure logs a failed login callback.
func (a *AuditLogger) LogAuthFailure(sessionID, ipAddress, reason string) {
	a.LogEvent(AuditEvent{EventType: AuditEventAuthFailure, SessionID: sessionID, IPAddress: ipAddress, Reason: reason})
}

// LogClientRegistered logs a dynamic client registration.
func (a *AuditLogger) LogClientRegistered(clientID, ipAddress string) {
	a.LogEvent(AuditEvent{EventType: AuditEventClientRegistered, ClientID: clientID, IPAddress: ipAddress, Success: true})
}

// LogInvalidRedirect logs a registration rejected for its redirect URI.
func (a *AuditLogger) LogInvalidRedirect(ipAddress, reason string) {
	a.LogEvent(AuditEvent{EventType: AuditEventInvalidRedirect, IPAddress: ipAddress, Reason: reason})
}

// LogRateLimitExceeded logs a request rejected by the rate limiter.
func (a *AuditLogger) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(AuditEvent{EventType: AuditEventRateLimitExceeded, IPAddress: ipAddress})
}
