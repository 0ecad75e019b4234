package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

const maxRegistrationBody = 64 << 10

var customSchemePattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)

// ServeRegistration handles Dynamic Client Registration (RFC 7591).
//
// Registrations are not persisted: the backend authorizes users, not
// clients, so the credentials only have to be well-formed.
func (h *Handler) ServeRegistration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		h.writeError(w, NewOAuthError("invalid_request", "Method not allowed", http.StatusMethodNotAllowed))
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBody)).Decode(&req); err != nil {
		h.writeError(w, ErrInvalidRequest("Failed to parse registration request"))
		return
	}

	clientIP := getClientIP(r, h.config.RateLimit.TrustProxy)

	resp, oerr := h.register(&req)
	if oerr != nil {
		if oerr.Code == "invalid_redirect_uri" {
			h.audit.LogInvalidRedirect(clientIP, oerr.Description)
		}
		h.writeError(w, oerr)
		return
	}

	h.logger.Info("Client registered",
		"client_id", resp.ClientID,
		"client_name", resp.ClientName,
		"redirect_uris", len(resp.RedirectURIs),
	)
	h.audit.LogClientRegistered(resp.ClientID, clientIP)

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusCreated, resp)
}

// register validates req and issues credentials, filling in defaults for
// omitted metadata.
func (h *Handler) register(req *ClientRegistrationRequest) (*ClientRegistrationResponse, *OAuthError) {
	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri, h.config.BaseURL); err != nil {
			return nil, ErrInvalidRedirectURI(err.Error())
		}
	}

	if req.TokenEndpointAuthMethod != "" && req.TokenEndpointAuthMethod != "none" &&
		!slices.Contains(SupportedTokenAuthMethods, req.TokenEndpointAuthMethod) {
		return nil, ErrInvalidClientMetadata(fmt.Sprintf("unsupported token_endpoint_auth_method %q", req.TokenEndpointAuthMethod))
	}

	clientID, err := randomHex(16)
	if err != nil {
		return nil, ErrServerError("Failed to generate client credentials")
	}
	clientSecret, err := randomHex(32)
	if err != nil {
		return nil, ErrServerError("Failed to generate client credentials")
	}

	resp := &ClientRegistrationResponse{
		ClientID:                ClientIDPrefix + clientID,
		ClientSecret:            clientSecret,
		ClientIDIssuedAt:        time.Now().Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		ClientName:              req.ClientName,
		ClientURI:               req.ClientURI,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		Scope:                   req.Scope,
	}
	if resp.RedirectURIs == nil {
		resp.RedirectURIs = []string{}
	}
	if len(resp.GrantTypes) == 0 {
		resp.GrantTypes = DefaultGrantTypes
	}
	if len(resp.ResponseTypes) == 0 {
		resp.ResponseTypes = DefaultResponseTypes
	}
	if resp.ClientName == "" {
		resp.ClientName = DefaultClientName
	}
	if resp.TokenEndpointAuthMethod == "" {
		resp.TokenEndpointAuthMethod = DefaultTokenEndpointAuthMethod
	}
	if resp.Scope == "" {
		resp.Scope = DefaultClientScope
	}

	return resp, nil
}

// validateRedirectURI validates a redirect URI according to OAuth 2.0 Security Best Current Practice
func validateRedirectURI(uri string, serverBaseURL string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %s", uri)
	}

	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments: %s", uri)
	}

	if parsed.Scheme == "" {
		return fmt.Errorf("redirect_uri must have a scheme: %s", uri)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if slices.Contains(DangerousSchemes, scheme) {
		return fmt.Errorf("redirect_uri scheme '%s' is not allowed for security reasons", parsed.Scheme)
	}

	// Native apps register custom schemes like com.example.app:/callback.
	if scheme != "http" && scheme != "https" {
		if !customSchemePattern.MatchString(scheme) {
			return fmt.Errorf("redirect_uri scheme '%s' is not a valid URI scheme", parsed.Scheme)
		}
		return nil
	}

	if parsed.Host == "" {
		return fmt.Errorf("http/https redirect_uri must have a host: %s", uri)
	}

	serverURL, err := url.Parse(serverBaseURL)
	if err != nil {
		return fmt.Errorf("cannot validate redirect_uri: invalid server base URL")
	}

	// Loopback redirects are always allowed; they cannot be intercepted remotely.
	production := !isLoopback(serverURL.Hostname())
	if production && !isLoopback(parsed.Hostname()) && scheme != "https" {
		return fmt.Errorf("redirect_uri must use HTTPS in production (non-localhost redirects): %s", uri)
	}

	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
