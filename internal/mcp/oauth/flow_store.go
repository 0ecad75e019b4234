package oauth

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/mcpbridge/internal/logging"
)

var (
	// ErrFlowNotFound is returned for an unknown or already consumed state.
	ErrFlowNotFound = errors.New("login flow not found")

	// ErrFlowExpired is returned for a state whose flow has expired.
	ErrFlowExpired = errors.New("login flow expired")
)

// PendingLogin is a login that was started but whose callback has not arrived.
type PendingLogin struct {
	State     string
	Verifier  string
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// FlowStore keeps pending logins keyed by state. Each state can be consumed once.
type FlowStore struct {
	mu     sync.Mutex
	flows  map[string]*PendingLogin
	logger *slog.Logger
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewFlowStore creates a flow store and starts its cleanup loop.
func NewFlowStore(logger *slog.Logger, cleanupInterval time.Duration) *FlowStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultFlowCleanupInterval
	}

	store := &FlowStore{
		flows:  make(map[string]*PendingLogin),
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}

	go store.cleanupLoop(cleanupInterval)

	return store
}

// Save stores a pending login.
func (s *FlowStore) Save(flow *PendingLogin) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[flow.State] = flow
	s.logger.Debug("Saved pending login",
		logging.SessionID(flow.SessionID),
		"expires_at", flow.ExpiresAt,
	)
}

// Consume returns and removes the pending login for state. Removing it on
// first use prevents a callback from being replayed.
func (s *FlowStore) Consume(state string) (*PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[state]
	if !ok {
		return nil, ErrFlowNotFound
	}
	delete(s.flows, state)

	if !s.now().Before(flow.ExpiresAt) {
		return nil, ErrFlowExpired
	}

	return flow, nil
}

// Len returns the number of pending logins, including expired ones not yet cleaned up.
func (s *FlowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}

// Stop ends the cleanup loop.
func (s *FlowStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *FlowStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stop:
			return
		}
	}
}

// cleanupExpired removes expired pending logins
func (s *FlowStore) cleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	deleted := 0
	for state, flow := range s.flows {
		if !now.Before(flow.ExpiresAt) {
			delete(s.flows, state)
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Debug("Cleaned up expired login flows", "deleted", deleted)
	}
	return deleted
}
