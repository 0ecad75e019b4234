package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
)

// State is the auth state of one request.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateRefreshPending  State = "refresh_pending"
	StateAuthenticated   State = "authenticated"
)

// Validator validates and refreshes backend session tokens.
// *backendauth.Client satisfies it.
type Validator interface {
	Validate(ctx context.Context, token string) backendauth.ValidationResult
	Refresh(ctx context.Context, token string) (string, bool)
}

// AuthResult is the resolved auth state of an MCP session.
type AuthResult struct {
	State     State
	SessionID string

	// Token and User are set when State is StateAuthenticated.
	Token string
	User  *backendauth.User

	// AuthURL is set when State is StateUnauthenticated.
	AuthURL string

	// Refreshed reports that the token was rotated during resolution.
	Refreshed bool
}

// Authenticated reports whether the session may call tools.
func (r AuthResult) Authenticated() bool {
	return r.State == StateAuthenticated
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Store     session.Store
	Validator Validator

	// AuthURL builds the login URL for a session id.
	AuthURL func(sessionID string) string

	// DefaultTTL is the session lifetime after a refresh when the backend
	// does not report an expiry for the new token.
	// Default: session.DefaultTTL
	DefaultTTL time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Resolver derives the auth state of MCP sessions.
type Resolver struct {
	store      session.Store
	validator  Validator
	authURL    func(string) string
	defaultTTL time.Duration
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	now        func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cfg.AuthURL == nil {
		return nil, fmt.Errorf("auth URL builder is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = session.DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Resolver{
		store:      cfg.Store,
		validator:  cfg.Validator,
		authURL:    cfg.AuthURL,
		defaultTTL: cfg.DefaultTTL,
		logger:     logging.WithComponent(cfg.Logger, "resolver"),
		metrics:    cfg.Metrics,
		now:        time.Now,
	}, nil
}

// Resolve returns the auth state of sessionID. It never creates a session.
// The only error it returns is a session store failure; backend failures
// resolve to StateUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (AuthResult, error) {
	unauthenticated := AuthResult{
		State:     StateUnauthenticated,
		SessionID: sessionID,
		AuthURL:   r.authURL(sessionID),
	}
	if sessionID == "" {
		return unauthenticated, nil
	}

	s, err := r.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return unauthenticated, nil
	}
	if err != nil {
		return AuthResult{}, fmt.Errorf("failed to load session: %w", err)
	}

	v := r.validator.Validate(ctx, s.AuthSessionToken)
	if !v.Valid {
		r.logger.Info("Backend rejected session token, requiring re-authentication", logging.SessionID(sessionID))
		if err := r.store.Delete(ctx, sessionID); err != nil {
			return AuthResult{}, fmt.Errorf("failed to delete invalid session: %w", err)
		}
		return unauthenticated, nil
	}

	result := AuthResult{
		State:     StateAuthenticated,
		SessionID: sessionID,
		Token:     s.AuthSessionToken,
		User:      v.Session.User,
	}

	if v.NeedsRefresh {
		result.State = StateRefreshPending
		r.refresh(ctx, s, &result)
		result.State = StateAuthenticated
	}

	return result, nil
}

// refresh rotates the token of s. On failure the old token stays in use;
// it is still valid, just close to expiry.
func (r *Resolver) refresh(ctx context.Context, s *session.Session, result *AuthResult) {
	newToken, ok := r.validator.Refresh(ctx, s.AuthSessionToken)
	if !ok {
		r.logger.Warn("Session refresh failed, continuing with current token", logging.SessionID(s.ID))
		return
	}

	userID := s.UserID
	if result.User != nil && result.User.ID != "" {
		userID = result.User.ID
	}

	expiresAt := r.expiryOf(ctx, newToken)
	if err := r.store.Set(ctx, s.ID, newToken, userID, expiresAt); err != nil {
		r.logger.Error("Failed to store refreshed session", logging.SessionID(s.ID), logging.Err(err))
	}

	result.Token = newToken
	result.Refreshed = true
	r.logger.Debug("Session refreshed", logging.SessionID(s.ID), "expires_at", expiresAt)
}

// expiryOf returns the backend-reported expiry of token, or now+DefaultTTL
// when the backend reports none.
func (r *Resolver) expiryOf(ctx context.Context, token string) time.Time {
	now := r.now()
	if v := r.validator.Validate(ctx, token); v.Valid {
		if exp := v.ExpiresAt(); exp.After(now) {
			return exp
		}
	}
	return now.Add(r.defaultTTL)
}

// Status reports the user behind sessionID, or nil when it is not
// authenticated.
func (r *Resolver) Status(ctx context.Context, sessionID string) (*backendauth.User, error) {
	res, err := r.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !res.Authenticated() {
		return nil, nil
	}
	return res.User, nil
}
