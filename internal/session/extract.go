package session

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// HeaderSessionID carries the MCP session id on requests and responses.
	HeaderSessionID = "X-MCP-Session-ID"

	// QueryParamSessionID is the query parameter fallback for the session id.
	QueryParamSessionID = "mcp_session_id"

	// BearerPrefix marks a bearer credential that is really an MCP session id.
	BearerPrefix = "mcp-session:"

	// IDPrefix prefixes every minted session id.
	IDPrefix = "mcp_"
)

// ExtractID returns the MCP session id carried by r, or "" if there is none.
func ExtractID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderSessionID)); id != "" {
		return id
	}

	if id := bearerSessionID(r.Header.Get("Authorization")); id != "" {
		return id
	}

	return strings.TrimSpace(r.URL.Query().Get(QueryParamSessionID))
}

// bearerSessionID parses "Bearer mcp-session:<id>". Other bearer tokens are ignored.
func bearerSessionID(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	token := strings.TrimSpace(parts[1])
	if !strings.HasPrefix(token, BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(token, BearerPrefix))
}

// NewID mints a fresh session id.
func NewID() string {
	return IDPrefix + uuid.NewString()
}

// ExtractOrNewID returns the id carried by r, or a fresh one with minted=true.
func ExtractOrNewID(r *http.Request) (id string, minted bool) {
	if id := ExtractID(r); id != "" {
		return id, false
	}
	return NewID(), true
}
