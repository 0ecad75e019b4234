// Package logging provides structured logging utilities for the mcpbridge server.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "session.resolve")
//	logger.Info("session authenticated",
//	    logging.SessionID(id),
//	    logging.UserHash(user.Email))
//
// # Security Considerations
//
//   - User emails and MCP session ids are hashed before they reach a log line
//   - Backend session tokens are never logged; use SanitizeToken for diagnostics
package logging
