// Package blackbox is a client for the app backend's MCP API: building an
// app from a prompt and reading a user's remaining credits.
//
// Requests are authenticated with the caller's better-auth session token,
// sent both as the session cookie and as a bearer token.
package blackbox
