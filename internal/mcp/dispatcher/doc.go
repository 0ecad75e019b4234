// Package dispatcher implements the MCP JSON-RPC endpoint.
//
// Every request resolves its MCP session id to an auth state before the
// method runs:
//
//   - Unauthenticated: no session, or the backend rejected its token. The
//     session is deleted and the caller gets an authorization URL.
//   - RefreshPending: the token is valid but close to expiry. A refresh is
//     attempted; the session continues as Authenticated either way.
//   - Authenticated: tools/list and tools/call may run.
//
// The state is never persisted. It is derived from the session store and
// the backend on each request.
package dispatcher
