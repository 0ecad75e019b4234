package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
)

// ServeLogin starts the login flow for an MCP session and redirects to the
// backend authorization endpoint.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		h.writeError(w, NewOAuthError("invalid_request", "Method not allowed", http.StatusMethodNotAllowed))
		return
	}

	sessionID := r.URL.Query().Get(ParamSessionID)
	if sessionID == "" {
		sessionID = session.ExtractID(r)
	}
	if sessionID == "" {
		h.writeError(w, ErrInvalidRequest("Missing mcp_session_id parameter"))
		return
	}

	state, err := randomHex(32)
	if err != nil {
		h.logger.Error("Failed to generate login state", logging.Err(err))
		h.writeError(w, ErrServerError("Failed to initiate authentication"))
		return
	}
	verifier := oauth2.GenerateVerifier()

	now := time.Now()
	h.flows.Save(&PendingLogin{
		State:     state,
		Verifier:  verifier,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(h.config.FlowTTL),
	})

	authURL := h.oauth2.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam(ParamSessionID, sessionID),
	)

	h.logger.Info("Login started", logging.SessionID(sessionID))
	h.audit.LogLoginStarted(sessionID, getClientIP(r, h.config.RateLimit.TrustProxy))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback completes a login. The backend session token comes either
// from exchanging code (with the PKCE verifier of the pending flow) or from
// the backend session cookie. On success the token is bound to the MCP
// session and the browser is sent back to the UI.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		h.writeError(w, NewOAuthError("invalid_request", "Method not allowed", http.StatusMethodNotAllowed))
		return
	}

	ctx := r.Context()
	q := r.URL.Query()
	sessionID := q.Get(ParamSessionID)
	code, state := q.Get("code"), q.Get("state")

	var token string
	switch {
	case state != "":
		flow, err := h.flows.Consume(state)
		if err != nil {
			h.logger.Warn("Login callback with unknown state", logging.Err(err))
			h.failCallback(w, r, sessionID, CallbackErrorFailed)
			return
		}
		sessionID = flow.SessionID

		if code == "" {
			h.failCallback(w, r, sessionID, CallbackErrorFailed)
			return
		}

		tok, err := h.exchange(ctx, code, flow.Verifier)
		if err != nil {
			h.logger.Warn("Code exchange failed", logging.SessionID(sessionID), logging.Err(err))
			h.failCallback(w, r, sessionID, CallbackErrorFailed)
			return
		}
		token = tok.AccessToken

	default:
		if sessionID == "" {
			h.writeError(w, ErrInvalidRequest("Missing mcp_session_id parameter"))
			return
		}
		cookie, err := r.Cookie(backendauth.CookieName)
		if err != nil || cookie.Value == "" {
			h.failCallback(w, r, sessionID, CallbackErrorNoSession)
			return
		}
		token = cookie.Value
	}

	if token == "" {
		h.failCallback(w, r, sessionID, CallbackErrorNoSession)
		return
	}

	email, errCode := h.bind(ctx, sessionID, token)
	if errCode != "" {
		h.failCallback(w, r, sessionID, errCode)
		return
	}

	h.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	h.audit.LogAuthSuccess(sessionID, email, getClientIP(r, h.config.RateLimit.TrustProxy))
	h.redirectToUI(w, r, url.Values{
		ParamAuthSuccess: {"true"},
		ParamSessionID:   {sessionID},
	})
}

func (h *Handler) exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.config.HTTPClient)

	ctx, span := instrumentation.StartBackendSpan(ctx, instrumentation.ServiceAuth, instrumentation.OperationTokenExchange)
	defer span.End()

	start := time.Now()
	tok, err := h.oauth2.Exchange(ctx, code, oauth2.VerifierOption(verifier))

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	}
	h.metrics.RecordBackendOperation(ctx, instrumentation.ServiceAuth, instrumentation.OperationTokenExchange, status, time.Since(start))

	return tok, err
}

// bind validates token and stores it for sessionID. It returns the user's
// email on success, or a callback error code.
func (h *Handler) bind(ctx context.Context, sessionID, token string) (email, errCode string) {
	sess, err := h.validator.GetSession(ctx, token)
	if err != nil {
		var statusErr *backendauth.StatusError
		switch {
		case errors.Is(err, backendauth.ErrNoUser):
			return "", CallbackErrorNoSession
		case errors.As(err, &statusErr):
			return "", CallbackErrorInvalidSession
		default:
			h.logger.Warn("Backend session lookup failed", logging.SessionID(sessionID), logging.Err(err))
			return "", CallbackErrorFailed
		}
	}

	now := time.Now()
	expiresAt := sess.Session.ExpiresAt.Time
	if expiresAt.IsZero() {
		expiresAt = now.Add(h.config.SessionTTL)
	}
	if !expiresAt.After(now) {
		return "", CallbackErrorInvalidSession
	}

	if err := h.store.Set(ctx, sessionID, token, sess.User.ID, expiresAt); err != nil {
		h.logger.Error("Failed to store session", logging.SessionID(sessionID), logging.Err(err))
		return "", CallbackErrorFailed
	}

	h.logger.Info("MCP session authenticated",
		logging.SessionID(sessionID),
		logging.UserHash(sess.User.Email),
		"expires_at", expiresAt,
	)
	return sess.User.Email, ""
}

func (h *Handler) failCallback(w http.ResponseWriter, r *http.Request, sessionID, code string) {
	h.metrics.RecordOAuthAuth(r.Context(), instrumentation.OAuthResultFailure)
	h.audit.LogAuthFailure(sessionID, getClientIP(r, h.config.RateLimit.TrustProxy), code)
	h.redirectToUI(w, r, url.Values{
		ParamError:     {code},
		ParamSessionID: {sessionID},
	})
}

func (h *Handler) redirectToUI(w http.ResponseWriter, r *http.Request, params url.Values) {
	h.setSecurityHeaders(w)
	http.Redirect(w, r, h.config.BaseURL+"/?"+params.Encode(), http.StatusFound)
}
