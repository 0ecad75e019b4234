package oauth

import (
	"fmt"
	"net/http"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError("invalid_request", desc, http.StatusBadRequest)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is invalid
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError("invalid_redirect_uri", desc, http.StatusBadRequest)
	}

	// ErrInvalidClientMetadata indicates a registration field has the wrong shape
	ErrInvalidClientMetadata = func(desc string) *OAuthError {
		return NewOAuthError("invalid_client_metadata", desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError("server_error", desc, http.StatusInternalServerError)
	}

	// ErrTemporarilyUnavailable indicates the login flow is not configured
	ErrTemporarilyUnavailable = func(desc string) *OAuthError {
		return NewOAuthError("temporarily_unavailable", desc, http.StatusServiceUnavailable)
	}

	// ErrRateLimitExceeded indicates the client sent too many requests
	ErrRateLimitExceeded = func(desc string) *OAuthError {
		return NewOAuthError("rate_limit_exceeded", desc, http.StatusTooManyRequests)
	}
)
