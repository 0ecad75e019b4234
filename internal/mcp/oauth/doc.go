// Package oauth serves the OAuth and MCP discovery surface of mcpbridge and the
// browser login flow that binds an MCP session to a backend session.
//
// Discovery documents (RFC 8414 authorization server metadata, RFC 9728
// protected resource metadata, OpenID configuration and mcp.json) are all
// generated from one Config by Metadata. The server does not issue tokens of
// its own: the authorization and token endpoints it advertises belong to the
// backend, and Dynamic Client Registration (RFC 7591) hands out credentials
// without persisting them.
//
// Login flow:
//
//  1. GET /api/auth/login?mcp_session_id=<id> stores a pending flow (state and
//     PKCE verifier) and redirects to the backend authorization endpoint.
//  2. The backend redirects to GET /api/auth/mcp-callback with code and state,
//     or with its session cookie set. The resulting backend session token is
//     validated and stored against the MCP session id.
//  3. GET /api/auth/status reports whether a session id is authenticated.
package oauth
