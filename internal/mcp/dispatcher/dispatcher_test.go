package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/blackbox"
	"github.com/teemow/mcpbridge/internal/mcp/jsonrpc"
	"github.com/teemow/mcpbridge/internal/mcp/oauth"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/tools"
	"github.com/teemow/mcpbridge/internal/tools/blackbox_tools"
	"github.com/teemow/mcpbridge/internal/tools/common"
)

type fakeApp struct {
	creditsEmail string
	buildErr     error
}

func (f *fakeApp) BuildApp(_ context.Context, _, userID, prompt string) (map[string]any, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return map[string]any{"appId": "app-1", "userId": userID, "prompt": prompt}, nil
}

func (f *fakeApp) Credits(_ context.Context, _, email string) (map[string]any, error) {
	f.creditsEmail = email
	return map[string]any{"credits": float64(42)}, nil
}

type noSessions struct{}

func (noSessions) GetSession(context.Context, string) (*backendauth.BackendSession, error) {
	return nil, errors.New("not used")
}

// testEnv is a dispatcher with an in-memory store and fake backends.
type testEnv struct {
	handler   http.Handler
	store     *session.MemoryStore
	validator *fakeValidator
	app       *fakeApp
	callers   []tools.Caller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{validator: newFakeValidator(), app: &fakeApp{}}

	resolver, store := newTestResolver(t, env.validator)
	env.store = store

	echo := tools.Tool{
		Definition: mcp.NewTool("echo",
			mcp.WithString("text", mcp.Required()),
			mcp.WithNumber("count"),
		),
		Handler: func(_ context.Context, args map[string]any, caller tools.Caller) (any, error) {
			env.callers = append(env.callers, caller)
			return args["text"], nil
		},
	}
	list := tools.Tool{
		Definition: mcp.NewTool("list"),
		Handler: func(context.Context, map[string]any, tools.Caller) (any, error) {
			return []string{"a", "b"}, nil
		},
	}
	crash := tools.Tool{
		Definition: mcp.NewTool("crash"),
		Handler: func(context.Context, map[string]any, tools.Caller) (any, error) {
			panic("boom")
		},
	}
	broken := tools.Tool{
		Definition: mcp.NewTool("broken"),
		Handler: func(context.Context, map[string]any, tools.Caller) (any, error) {
			return nil, errors.New("unexpected state")
		},
	}

	all := append(blackbox_tools.Tools(env.app, noSessions{}, common.Instrumentation{}), echo, list, crash, broken)
	registry, err := tools.NewRegistry(all...)
	require.NoError(t, err)

	cfg, err := oauthConfig()
	require.NoError(t, err)

	d, err := New(Config{
		Resolver: resolver,
		Tools:    registry,
		Metadata: cfg,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	env.handler = d.Handler("/mcp")
	return env
}

func oauthConfig() (*oauth.Metadata, error) {
	store := session.NewMemoryStore()
	defer store.Close()

	h, err := oauth.NewHandler(oauth.Config{
		BaseURL:        "https://mcp.example.com",
		BackendAuthURL: "https://auth.example.com",
		Logger:         discardLogger(),
	}, store, noSessions{}, nil)
	if err != nil {
		return nil, err
	}
	h.Close()
	return h.Metadata(), nil
}

// login binds sessionID to a token valid for ttl.
func (e *testEnv) login(t *testing.T, sessionID, token string, ttl time.Duration) {
	t.Helper()
	expires := time.Now().Add(ttl)
	e.validator.add(token, expires, jane)
	require.NoError(t, e.store.Set(context.Background(), sessionID, token, jane.ID, expires))
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpc.Error  `json:"error"`
}

func (e *testEnv) post(t *testing.T, sessionID, body string, header ...string) (*httptest.ResponseRecorder, rpcResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(session.HeaderSessionID, sessionID)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp rpcResponse
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StructuredContent map[string]any `json:"structuredContent"`
	IsError           bool           `json:"isError"`
}

func decodeToolResult(t *testing.T, resp rpcResponse) toolResult {
	t.Helper()
	require.Nil(t, resp.Error)
	var res toolResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	require.Len(t, res.Content, 1)
	return res
}

func TestDispatcher_InitializeUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.post(t, "mcp_new", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mcp_new", rec.Header().Get(session.HeaderSessionID))
	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.JSONEq(t, `1`, string(resp.ID))
	require.Nil(t, resp.Error)

	var res InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Equal(t, oauth.ProtocolVersion, res.ProtocolVersion)
	assert.Equal(t, testAuthURL("mcp_new"), res.AuthURL)
	assert.Equal(t, oauth.DefaultServerName, res.ServerInfo.Name)
	assert.NotNil(t, res.Capabilities.Tools)
	assert.Contains(t, res.Capabilities.Experimental, "oauth")

	_, err := env.store.Get(context.Background(), "mcp_new")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestDispatcher_InitializeAuthenticated(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", time.Hour)

	_, resp := env.post(t, "mcp_1", `{"jsonrpc":"2.0","id":"a","method":"initialize"}`)

	var res InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Empty(t, res.AuthURL)
	assert.JSONEq(t, `"a"`, string(resp.ID))
}

func TestDispatcher_MintsSessionID(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	id := rec.Header().Get(session.HeaderSessionID)
	assert.True(t, strings.HasPrefix(id, session.IDPrefix))

	var res InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Contains(t, res.AuthURL, id)
}

func TestDispatcher_ToolsListRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.post(t, "mcp_new", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeAuthRequired, resp.Error.Code)
	assert.Equal(t, "Authentication required", resp.Error.Message)
	assert.Equal(t, map[string]any{"authUrl": testAuthURL("mcp_new")}, resp.Error.Data)
	assert.Nil(t, resp.Result)
}

func TestDispatcher_AuthRequiredRedirectsBrowsers(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name         string
		accept       string
		wantRedirect bool
	}{
		{name: "browser", accept: "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", wantRedirect: true},
		{name: "json client", accept: "application/json, text/event-stream"},
		{name: "anything", accept: "*/*"},
		{name: "no accept"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var header []string
			if tt.accept != "" {
				header = []string{"Accept", tt.accept}
			}
			rec, _ := env.post(t, "mcp_new", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo"}}`, header...)

			assert.Equal(t, "mcp_new", rec.Header().Get(session.HeaderSessionID))
			if tt.wantRedirect {
				assert.Equal(t, http.StatusFound, rec.Code)
				assert.Equal(t, testAuthURL("mcp_new"), rec.Header().Get("Location"))
			} else {
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			}
		})
	}
}

func TestDispatcher_ToolsList(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", time.Hour)

	rec, resp := env.post(t, "mcp_1", `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)

	var res struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &res))

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"])
	}
	assert.Equal(t, []string{"build_app", "check_credits", "echo", "list", "crash", "broken"}, names)
}

func TestDispatcher_ToolsCall(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", time.Hour)

	rec, resp := env.post(t, "mcp_1", `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeToolResult(t, resp)
	assert.Equal(t, "text", res.Content[0].Type)
	assert.Equal(t, "hello", res.Content[0].Text)
	assert.Nil(t, res.StructuredContent)
	assert.False(t, res.IsError)

	require.Len(t, env.callers, 1)
	assert.Equal(t, tools.Caller{UserID: "user-1", Email: "jane@example.com", SessionToken: "tok-1"}, env.callers[0])
}

func TestDispatcher_ToolsCallStructuredResult(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", time.Hour)

	_, resp := env.post(t, "mcp_1", `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"build_app","arguments":{"prompt":"todo app"}}}`)

	res := decodeToolResult(t, resp)
	assert.Equal(t, map[string]any{"appId": "app-1", "userId": "user-1", "prompt": "todo app"}, res.StructuredContent)
	assert.JSONEq(t, `{"appId":"app-1","userId":"user-1","prompt":"todo app"}`, res.Content[0].Text)
	assert.Contains(t, res.Content[0].Text, "\n  ")
}

func TestDispatcher_ToolsCallArrayResult(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", time.Hour)

	_, resp := env.post(t, "mcp_1", `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"list"}}`)

	res := decodeToolResult(t, resp)
	assert.JSONEq(t, `["a","b"]`, res.Content[0].Text)
	assert.Nil(t, res.StructuredContent)
}

func TestDispatcher_CheckCreditsUsesAuthenticatedEmail(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", time.Hour)

	_, resp := env.post(t, "mcp_1", `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"check_credits","arguments":{"email":"mallory@example.com"}}}`)

	res := decodeToolResult(t, resp)
	assert.Equal(t, "jane@example.com", res.StructuredContent["email"])
	assert.Equal(t, float64(42), res.StructuredContent["credits"])
	assert.Equal(t, "jane@example.com", env.app.creditsEmail)
}

func TestDispatcher_ToolFailureIsResult(t *testing.T) {
	env := newTestEnv(t)
	env.app.buildErr = &blackbox.APIError{StatusCode: http.StatusPaymentRequired, Message: "Insufficient credits"}
	env.login(t, "mcp_1", "tok-1", time.Hour)

	rec, resp := env.post(t, "mcp_1", `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"build_app","arguments":{"prompt":"x"}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeToolResult(t, resp)
	assert.True(t, res.IsError)
	assert.Equal(t, "Insufficient credits", res.Content[0].Text)
	assert.Equal(t, map[string]any{"error": "Insufficient credits"}, res.StructuredContent)
}

func TestDispatcher_ToolsCallErrors(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", time.Hour)

	tests := []struct {
		name        string
		params      string
		wantStatus  int
		wantCode    jsonrpc.ErrorCode
		wantMessage string
	}{
		{name: "unknown tool", params: `{"name":"nope"}`, wantStatus: http.StatusNotFound, wantCode: jsonrpc.CodeMethodNotFound, wantMessage: "Tool not found: nope"},
		{name: "missing name", params: `{"arguments":{}}`, wantStatus: http.StatusBadRequest, wantCode: jsonrpc.CodeInvalidParams, wantMessage: "Invalid params"},
		{name: "params not an object", params: `[1]`, wantStatus: http.StatusBadRequest, wantCode: jsonrpc.CodeInvalidParams, wantMessage: "Invalid params"},
		{name: "missing required argument", params: `{"name":"echo","arguments":{}}`, wantStatus: http.StatusBadRequest, wantCode: jsonrpc.CodeInvalidParams, wantMessage: `missing required argument "text"`},
		{name: "wrong argument type", params: `{"name":"echo","arguments":{"text":"a","count":"three"}}`, wantStatus: http.StatusBadRequest, wantCode: jsonrpc.CodeInvalidParams, wantMessage: "count"},
		{name: "handler error", params: `{"name":"broken"}`, wantStatus: http.StatusInternalServerError, wantCode: jsonrpc.CodeInternalError, wantMessage: "unexpected state"},
		{name: "handler panic", params: `{"name":"crash"}`, wantStatus: http.StatusInternalServerError, wantCode: jsonrpc.CodeInternalError, wantMessage: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.post(t, "mcp_1", `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":`+tt.params+`}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Contains(t, resp.Error.Message+" "+toString(resp.Error.Data), tt.wantMessage)
			assert.JSONEq(t, `8`, string(resp.ID))
		})
	}

	// Arguments are validated before the handler runs.
	assert.Empty(t, env.callers)
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func TestDispatcher_Ping(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.post(t, "", `{"jsonrpc":"2.0","id":9,"method":"ping"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"pong"`, string(resp.Result))
}

func TestDispatcher_ProtocolErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   jsonrpc.ErrorCode
		wantID     string
	}{
		{name: "unknown method", body: `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, wantStatus: http.StatusNotFound, wantCode: jsonrpc.CodeMethodNotFound, wantID: `1`},
		{name: "malformed json", body: `{"jsonrpc":`, wantStatus: http.StatusBadRequest, wantCode: jsonrpc.CodeParseError, wantID: `null`},
		{name: "empty body", body: ``, wantStatus: http.StatusBadRequest, wantCode: jsonrpc.CodeParseError, wantID: `null`},
		{name: "wrong version", body: `{"jsonrpc":"1.0","id":"x","method":"ping"}`, wantStatus: http.StatusBadRequest, wantCode: jsonrpc.CodeInvalidRequest, wantID: `"x"`},
		{name: "batch", body: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, wantStatus: http.StatusBadRequest, wantCode: jsonrpc.CodeInvalidRequest, wantID: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.post(t, "mcp_1", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.JSONEq(t, tt.wantID, string(resp.ID))
		})
	}
}

func TestDispatcher_UnknownMethodMessage(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"prompts/list"}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, "Method not found: prompts/list", resp.Error.Message)
}

func TestDispatcher_Notification(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.post(t, "mcp_1", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestDispatcher_GetReturnsDiscovery(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, oauth.DiscoveryCacheControl, rec.Header().Get("Cache-Control"))

	var info oauth.MCPServerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, oauth.ProtocolVersion, info.MCPVersion)
	assert.Equal(t, "https://mcp.example.com/mcp", info.Server)
	assert.True(t, info.OAuth.Required)
}

func TestDispatcher_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/mcp", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Allow"))
}

func TestDispatcher_Preflight(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/mcp", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), session.HeaderSessionID)
	assert.Equal(t, session.HeaderSessionID, rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestDispatcher_ExpiredSessionRequiresReauth(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", time.Hour)

	call := `{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`

	rec, resp := env.post(t, "mcp_1", call)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)

	// The backend now considers the token expired.
	env.validator.mu.Lock()
	delete(env.validator.tokens, "tok-1")
	env.validator.mu.Unlock()

	rec, resp = env.post(t, "mcp_1", call)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeAuthRequired, resp.Error.Code)

	_, err := env.store.Get(context.Background(), "mcp_1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestDispatcher_StoreExpiryRequiresReauth(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", time.Hour)

	call := `{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`

	rec, resp := env.post(t, "mcp_1", call)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)

	require.NoError(t, env.store.Set(context.Background(), "mcp_1", "tok-1", jane.ID, time.Now().Add(-time.Minute)))

	rec, resp = env.post(t, "mcp_1", call)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Authentication required", resp.Error.Message)

	_, err := env.store.Get(context.Background(), "mcp_1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestDispatcher_RefreshFailureStaysAuthenticated(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "mcp_1", "tok-1", 2*time.Minute)

	rec, resp := env.post(t, "mcp_1", `{"jsonrpc":"2.0","id":12,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)
	assert.Equal(t, []string{"tok-1"}, env.validator.refreshed)
	require.Len(t, env.callers, 1)
	assert.Equal(t, "tok-1", env.callers[0].SessionToken)
}
