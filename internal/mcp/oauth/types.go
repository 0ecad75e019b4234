package oauth

// AuthorizationServerMetadata is OAuth 2.0 Authorization Server Metadata (RFC 8414)
// plus the MCP-specific hints hosts look for.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	MCPOAuthRequired bool   `json:"mcp_oauth_required"`
	MCPAuthEndpoint  string `json:"mcp_auth_endpoint"`
	MCPServer        string `json:"mcp_server"`
}

// OpenIDConfiguration extends the authorization server metadata with the
// OpenID Connect discovery fields.
type OpenIDConfiguration struct {
	AuthorizationServerMetadata

	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// ProtectedResourceMetadata represents OAuth 2.0 Protected Resource Metadata (RFC 9728)
type ProtectedResourceMetadata struct {
	// Resource is the identifier for the protected resource
	Resource string `json:"resource"`

	// AuthorizationServers lists the authorization servers that can issue tokens for this resource
	AuthorizationServers []string `json:"authorization_servers"`

	// BearerMethodsSupported lists the ways Bearer tokens can be sent (RFC 6750)
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`

	// ScopesSupported lists the scopes understood by this resource
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	MCPOAuthRequired bool   `json:"mcp_oauth_required"`
	MCPAuthEndpoint  string `json:"mcp_auth_endpoint"`
	MCPServer        string `json:"mcp_server,omitempty"`
}

// OAuthCapability is advertised under capabilities.experimental.oauth in the
// initialize result.
type OAuthCapability struct {
	AuthorizationServerMetadataURL string `json:"authorizationServerMetadataUrl"`
	ProtectedResourceMetadataURL   string `json:"protectedResourceMetadataUrl"`
	ClientRegistrationURL          string `json:"clientRegistrationUrl,omitempty"`
}

// ServerCapabilities is the capability summary of MCPServerInfo.
type ServerCapabilities struct {
	Tools     bool `json:"tools"`
	Prompts   bool `json:"prompts"`
	Resources bool `json:"resources"`
}

// ServerOAuthInfo is the oauth block of MCPServerInfo.
type ServerOAuthInfo struct {
	Required bool `json:"required"`
	OAuthCapability
}

// MCPServerInfo is the discovery document served on GET of the MCP endpoint.
type MCPServerInfo struct {
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Description  string             `json:"description"`
	MCPVersion   string             `json:"mcpVersion"`
	Capabilities ServerCapabilities `json:"capabilities"`
	OAuth        ServerOAuthInfo    `json:"oauth"`
	Server       string             `json:"server"`
}

// MCPDiscoveryAuth is the auth block of MCPDiscovery.
type MCPDiscoveryAuth struct {
	Type string `json:"type"`
	OAuthCapability
}

// MCPDiscovery is the /.well-known/mcp.json document.
type MCPDiscovery struct {
	Name            string           `json:"name"`
	Version         string           `json:"version"`
	ProtocolVersion string           `json:"protocolVersion"`
	ServerURL       string           `json:"serverUrl"`
	Auth            MCPDiscoveryAuth `json:"auth"`
}

// ClientRegistrationRequest represents a dynamic client registration request (RFC 7591)
type ClientRegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// ClientRegistrationResponse represents a dynamic client registration response (RFC 7591)
type ClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ClientName              string   `json:"client_name"`
	ClientURI               string   `json:"client_uri,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope"`
}

// StatusUser is the user summary in an authenticated status response.
type StatusUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// StatusResponse is the body of GET /api/auth/status.
type StatusResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *StatusUser `json:"user,omitempty"`
	AuthURL       string      `json:"authUrl,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}
