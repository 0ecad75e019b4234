package oauth

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
)

// ServeStatus reports whether the MCP session in the request is authenticated.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		h.writeError(w, NewOAuthError("invalid_request", "Method not allowed", http.StatusMethodNotAllowed))
		return
	}

	w.Header().Set("Cache-Control", "no-store")

	sessionID := session.ExtractID(r)
	if sessionID == "" {
		h.writeJSON(w, http.StatusBadRequest, StatusResponse{Error: "No MCP session ID provided"})
		return
	}
	w.Header().Set(session.HeaderSessionID, sessionID)

	user, err := h.lookupStatus(r, sessionID)
	if err != nil {
		h.logger.Error("Status lookup failed", logging.SessionID(sessionID), logging.Err(err))
		h.writeError(w, ErrServerError("Failed to check authentication status"))
		return
	}

	if user == nil {
		h.writeJSON(w, http.StatusOK, StatusResponse{AuthURL: h.metadata.AuthURL(sessionID)})
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		User:          &StatusUser{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

func (h *Handler) lookupStatus(r *http.Request, sessionID string) (*backendauth.User, error) {
	if h.status != nil {
		return h.status.Status(r.Context(), sessionID)
	}

	s, err := h.store.Get(r.Context(), sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	bs, err := h.validator.GetSession(r.Context(), s.AuthSessionToken)
	if err != nil {
		return nil, nil
	}
	return bs.User, nil
}

// ServeRoot sends browsers that arrive with mcp_auth_required=true into the
// login flow and acknowledges the callback redirects. Anything else is 404;
// the UI itself is served elsewhere.
func (h *Handler) ServeRoot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	switch {
	case q.Get(ParamAuthSuccess) == "true":
		h.writeText(w, http.StatusOK, "Authentication complete. You can return to your MCP client.")
		return
	case q.Get(ParamError) != "":
		h.writeText(w, http.StatusUnauthorized, "Authentication failed ("+q.Get(ParamError)+"). Please start the login again from your MCP client.")
		return
	case q.Get(ParamAuthRequired) != "true":
		http.NotFound(w, r)
		return
	}

	sessionID := q.Get(ParamSessionID)
	if sessionID == "" {
		sessionID = session.NewID()
	}

	h.setSecurityHeaders(w)
	http.Redirect(w, r, h.config.BaseURL+PathLogin+"?"+url.Values{ParamSessionID: {sessionID}}.Encode(), http.StatusFound)
}

func (h *Handler) writeText(w http.ResponseWriter, status int, msg string) {
	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg + "\n"))
}
