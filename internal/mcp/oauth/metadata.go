package oauth

import (
	"net/url"
	"strings"
)

// Metadata generates every discovery document from one Config. Documents
// depend on the MCP mount path they are requested for, so a host that finds
// the server under /api/mcp is pointed at the /api/mcp endpoints.
type Metadata struct {
	cfg Config
}

// NewMetadata creates a metadata generator. cfg must already have defaults applied.
func NewMetadata(cfg Config) *Metadata {
	return &Metadata{cfg: cfg}
}

func (m *Metadata) url(path string) string {
	return m.cfg.BaseURL + path
}

// AuthURL returns the login page URL for an MCP session.
func (m *Metadata) AuthURL(sessionID string) string {
	u, err := url.Parse(m.cfg.AuthPageURL)
	if err != nil {
		return m.cfg.AuthPageURL
	}
	q := u.Query()
	if sessionID != "" {
		q.Set(ParamSessionID, sessionID)
	}
	q.Set(ParamAuthRequired, "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// authEndpoint is the login page without a session, as advertised to hosts.
func (m *Metadata) authEndpoint() string {
	return m.AuthURL("")
}

// AuthorizationServer returns RFC 8414 metadata for the MCP endpoint at mcpPath.
func (m *Metadata) AuthorizationServer(mcpPath string) AuthorizationServerMetadata {
	return AuthorizationServerMetadata{
		Issuer:                            m.cfg.BaseURL,
		AuthorizationEndpoint:             m.cfg.AuthPageURL,
		TokenEndpoint:                     m.cfg.TokenURL,
		IntrospectionEndpoint:             m.cfg.BackendAuthURL + BackendIntrospectPath,
		RegistrationEndpoint:              m.url(PathRegister),
		ResponseTypesSupported:            DefaultResponseTypes,
		GrantTypesSupported:               DefaultGrantTypes,
		CodeChallengeMethodsSupported:     SupportedCodeChallengeMethods,
		ScopesSupported:                   m.cfg.Scopes,
		TokenEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
		MCPOAuthRequired:                  true,
		MCPAuthEndpoint:                   m.authEndpoint(),
		MCPServer:                         m.url(mcpPath),
	}
}

// ProtectedResource returns RFC 9728 metadata for the MCP endpoint at mcpPath,
// naming the authorization server metadata at asPath.
func (m *Metadata) ProtectedResource(mcpPath, asPath string) ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:               m.url(mcpPath),
		AuthorizationServers:   []string{m.url(asPath)},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        m.cfg.Scopes,
		MCPOAuthRequired:       true,
		MCPAuthEndpoint:        m.authEndpoint(),
		MCPServer:              m.url(mcpPath),
	}
}

// OpenIDConfiguration returns OpenID Connect discovery metadata. The userinfo
// and JWKS endpoints belong to the backend.
func (m *Metadata) OpenIDConfiguration(mcpPath string) OpenIDConfiguration {
	return OpenIDConfiguration{
		AuthorizationServerMetadata:      m.AuthorizationServer(mcpPath),
		UserinfoEndpoint:                 m.cfg.BackendAuthURL + BackendUserinfoPath,
		JWKSURI:                          m.cfg.BackendAuthURL + BackendJWKSPath,
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ClaimsSupported:                  SupportedClaims,
	}
}

// OAuthCapability returns the discovery URLs for the MCP endpoint at mcpPath.
func (m *Metadata) OAuthCapability(mcpPath string) OAuthCapability {
	base := m.discoveryBase(mcpPath)
	return OAuthCapability{
		AuthorizationServerMetadataURL: m.url(base + PathAuthorizationServer),
		ProtectedResourceMetadataURL:   m.url(base + PathProtectedResource),
		ClientRegistrationURL:          m.url(PathRegister),
	}
}

// ServerInfo returns the MCP server discovery document for mcpPath.
func (m *Metadata) ServerInfo(mcpPath string) MCPServerInfo {
	return MCPServerInfo{
		Name:         m.cfg.ServerName,
		Version:      m.cfg.ServerVersion,
		Description:  m.cfg.ServerDescription,
		MCPVersion:   ProtocolVersion,
		Capabilities: ServerCapabilities{Tools: true},
		OAuth: ServerOAuthInfo{
			Required:        true,
			OAuthCapability: m.OAuthCapability(mcpPath),
		},
		Server: m.url(mcpPath),
	}
}

// Discovery returns the root /.well-known/mcp.json document.
func (m *Metadata) Discovery() MCPDiscovery {
	return MCPDiscovery{
		Name:            m.cfg.ServerName,
		Version:         m.cfg.ServerVersion,
		ProtocolVersion: ProtocolVersion,
		ServerURL:       m.url(m.cfg.MCPPath),
		Auth: MCPDiscoveryAuth{
			Type: "oauth2",
			OAuthCapability: OAuthCapability{
				AuthorizationServerMetadataURL: m.url(PathAuthorizationServer),
				ProtectedResourceMetadataURL:   m.url(PathProtectedResource),
				ClientRegistrationURL:          m.url(PathRegister),
			},
		},
	}
}

// discoveryBase is the prefix under which an MCP mount publishes its
// well-known documents. The primary mount uses the root documents.
func (m *Metadata) discoveryBase(mcpPath string) string {
	if mcpPath == "" || mcpPath == m.cfg.MCPPath {
		return ""
	}
	return strings.TrimRight(mcpPath, "/")
}
