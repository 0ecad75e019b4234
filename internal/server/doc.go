// Package server wires mcpbridge together and runs its HTTP listeners.
//
// # Key Components
//
// NewApp builds the session store (in-memory or Redis), the better-auth and
// app backend clients, the tool registry, the OAuth handler and the MCP
// dispatcher from a config.Config.
//
// HTTPServer is the public listener. It serves the MCP endpoint at the
// configured path and at /api/mcp, the OAuth discovery, registration and
// login endpoints, and the health checks. Every request is counted by its
// matched route.
//
// MetricsServer exposes Prometheus metrics on a separate port.
//
// HealthChecker serves /healthz, /readyz and /healthz/detailed. Readiness
// fails while shutting down or when a Redis session store is unreachable.
package server
