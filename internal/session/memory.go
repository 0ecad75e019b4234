package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/mcpbridge/internal/logging"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	sweepInterval time.Duration
	logger        *slog.Logger
	observer      Observer
	now           func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithLogger sets the logger used for sweep diagnostics.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers an Observer for session count changes.
func WithObserver(o Observer) MemoryOption {
	return func(s *MemoryStore) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewMemoryStore creates a MemoryStore and starts its background sweep.
// Call Close to stop the sweep.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions:      make(map[string]*Session),
		sweepInterval: DefaultSweepInterval,
		logger:        slog.Default(),
		observer:      nopObserver{},
		now:           time.Now,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop()

	return s
}

// Set creates or replaces the session for id.
func (s *MemoryStore) Set(ctx context.Context, id, token, userID string, expiresAt time.Time) error {
	now := s.now()
	if err := validate(id, token); err != nil {
		return err
	}

	if !expiresAt.After(now) {
		// Already expired: the upsert replaces any previous entry with nothing.
		s.mu.Lock()
		_, existed := s.sessions[id]
		delete(s.sessions, id)
		s.mu.Unlock()

		if existed {
			s.observer.DecrementActiveSessions(ctx)
		}
		s.logger.Debug("session stored already expired", logging.SessionID(id), slog.Time("expires_at", expiresAt))
		return nil
	}

	s.mu.Lock()
	_, existed := s.sessions[id]
	s.sessions[id] = &Session{
		ID:               id,
		AuthSessionToken: token,
		UserID:           userID,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
	}
	s.mu.Unlock()

	if !existed {
		s.observer.IncrementActiveSessions(ctx)
	}

	s.logger.Debug("session stored",
		logging.SessionID(id),
		slog.Time("expires_at", expiresAt),
		slog.Bool("replaced", existed))

	return nil
}

// Get returns a copy of the live session for id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	if sess.Expired(s.now()) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced it.
		current, still := s.sessions[id]
		removed := still && current.Expired(s.now())
		if removed {
			delete(s.sessions, id)
		}
		s.mu.Unlock()

		if removed {
			s.observer.DecrementActiveSessions(ctx)
			s.logger.Debug("expired session removed on read", logging.SessionID(id))
			return nil, ErrNotFound
		}
		if !still {
			return nil, ErrNotFound
		}
		sess = current
	}

	cp := *sess
	return &cp, nil
}

// Delete removes the session for id.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if existed {
		s.observer.DecrementActiveSessions(ctx)
		s.logger.Debug("session deleted", logging.SessionID(id))
	}
	return nil
}

// Len returns the number of stored sessions, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats returns counters for health reporting.
func (s *MemoryStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	live := 0
	for _, sess := range s.sessions {
		if !sess.Expired(now) {
			live++
		}
	}
	return map[string]int{
		"sessions":         len(s.sessions),
		"sessions_live":    live,
		"sessions_expired": len(s.sessions) - live,
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep collects expired ids under the read lock, then deletes them under the
// write lock after re-checking each one.
func (s *MemoryStore) sweep() int {
	now := s.now()

	s.mu.RLock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}

	removed := 0
	s.mu.Lock()
	current := s.now()
	for _, id := range expired {
		if sess, ok := s.sessions[id]; ok && sess.Expired(current) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mu.Unlock()

	ctx := context.Background()
	for i := 0; i < removed; i++ {
		s.observer.DecrementActiveSessions(ctx)
	}

	s.logger.Debug("swept expired sessions", slog.Int("removed", removed))
	return removed
}
