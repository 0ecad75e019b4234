package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/teemow/mcpbridge/internal/session"
)

// ServerContext owns the process-wide state the HTTP handlers share: the
// session store and the shutdown flag health checks report on.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	store    session.Store
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context around store.
func NewServerContext(ctx context.Context, store session.Store) (*ServerContext, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		store:  store,
	}, nil
}

// Context returns the server context. It is cancelled on Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Store returns the session store.
func (sc *ServerContext) Store() session.Store {
	return sc.store
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the context as shut down and closes the session store.
// Calling it more than once is a no-op.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()

	if err := sc.store.Close(); err != nil {
		return fmt.Errorf("failed to close session store: %w", err)
	}
	return nil
}
