package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultSweepInterval is how often MemoryStore removes expired sessions.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultTTL is used when the backend does not report an expiry for a token.
	DefaultTTL = 7 * 24 * time.Hour
)

var (
	// ErrNotFound is returned by Get when no live session exists for the id.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidSession is returned by Set for empty ids or tokens.
	ErrInvalidSession = errors.New("invalid session")
)

// Session is the binding of an MCP session id to a backend session token.
type Session struct {
	ID               string    `json:"id"`
	AuthSessionToken string    `json:"auth_session_token"`
	UserID           string    `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Expired reports whether the session is expired at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store is the session registry used by the dispatcher and the login flow.
type Store interface {
	// Set creates or replaces the session for id. Last write wins. An expiry
	// that is not after now is accepted and removes any entry for id.
	Set(ctx context.Context, id, token, userID string, expiresAt time.Time) error

	// Get returns the live session for id or ErrNotFound. Expired sessions are
	// deleted as a side effect.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes the session for id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases background resources.
	Close() error
}

// Observer is notified when sessions are added to or removed from a
// MemoryStore. *instrumentation.Metrics satisfies it.
type Observer interface {
	IncrementActiveSessions(ctx context.Context)
	DecrementActiveSessions(ctx context.Context)
}

type nopObserver struct{}

func (nopObserver) IncrementActiveSessions(context.Context) {}
func (nopObserver) DecrementActiveSessions(context.Context) {}

func validate(id, token string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: session id cannot be empty", ErrInvalidSession)
	case token == "":
		return fmt.Errorf("%w: session token cannot be empty", ErrInvalidSession)
	}
	return nil
}
