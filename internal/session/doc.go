// Package session binds MCP session ids to backend session tokens.
//
// An MCP host (for example ChatGPT) identifies itself with an opaque session id
// that it sends on every request. After the user signs in, the backend issues
// a session token; Store keeps the mapping between the two together with the
// owning user id and an expiry.
//
// Two Store implementations are provided:
//   - MemoryStore: process-local map with a periodic sweep of expired entries
//   - RedisStore: shared store for multi-replica deployments, using Redis TTLs
//
// Both return ErrNotFound for absent or expired sessions and lazily delete
// expired entries on read.
//
// ExtractID pulls the session id from a request in priority order:
//
//  1. X-MCP-Session-ID header
//  2. Authorization: Bearer mcp-session:<id>
//  3. mcp_session_id query parameter
package session
