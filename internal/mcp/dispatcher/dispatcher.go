package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/mcp/jsonrpc"
	"github.com/teemow/mcpbridge/internal/mcp/oauth"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/tools"
)

// MCP methods served by the dispatcher.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
	MethodPing       = "ping"
)

const maxRequestBody = 1 << 20

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	htmlMediaType = contenttype.NewMediaType("text/html")

	// JSON first: callers without a preference get in-band errors.
	authRequiredMediaTypes = []contenttype.MediaType{jsonMediaType, htmlMediaType}
)

// Config configures a Dispatcher.
type Config struct {
	Resolver *Resolver
	Tools    *tools.Registry

	// Metadata produces the discovery document and OAuth capability URLs.
	Metadata *oauth.Metadata

	ServerName    string
	ServerVersion string

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Dispatcher serves MCP JSON-RPC over HTTP POST.
type Dispatcher struct {
	resolver   *Resolver
	tools      *tools.Registry
	metadata   *oauth.Metadata
	serverInfo mcp.Implementation
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("metadata is required")
	}
	if cfg.ServerName == "" {
		cfg.ServerName = oauth.DefaultServerName
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = oauth.DefaultServerVersion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Dispatcher{
		resolver: cfg.Resolver,
		tools:    cfg.Tools,
		metadata: cfg.Metadata,
		serverInfo: mcp.Implementation{
			Name:    cfg.ServerName,
			Version: cfg.ServerVersion,
		},
		logger:  logging.WithComponent(cfg.Logger, "dispatcher"),
		metrics: cfg.Metrics,
	}, nil
}

// Handler returns the endpoint for the MCP mount at mcpPath. The path only
// affects the discovery URLs handed to the client.
func (d *Dispatcher) Handler(mcpPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.serve(w, r, mcpPath)
	})
}

func (d *Dispatcher) serve(w http.ResponseWriter, r *http.Request, mcpPath string) {
	sessionID, minted := session.ExtractOrNewID(r)

	h := w.Header()
	h.Set(session.HeaderSessionID, sessionID)
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", session.HeaderSessionID)

	switch r.Method {
	case http.MethodPost:
	case http.MethodGet, http.MethodHead:
		h.Set("Cache-Control", oauth.DiscoveryCacheControl)
		writeJSON(w, http.StatusOK, d.metadata.ServerInfo(mcpPath))
		return
	case http.MethodOptions:
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, "+session.HeaderSessionID)
		h.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		h.Set("Allow", "GET, POST, OPTIONS")
		d.writeError(w, nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "Method not allowed", nil), http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		d.writeError(w, nil, jsonrpc.NewError(jsonrpc.CodeParseError, "Parse error", "request body too large or unreadable"), http.StatusBadRequest)
		return
	}

	req, rpcErr := jsonrpc.Decode(body)
	if rpcErr != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		d.writeError(w, id, rpcErr, http.StatusBadRequest)
		return
	}

	if minted {
		d.logger.Debug("Minted MCP session id", logging.SessionID(sessionID), logging.Method(req.Method))
	}

	ctx, span := instrumentation.StartRPCSpan(r.Context(), req.Method)
	defer span.End()

	if req.IsNotification() {
		d.metrics.RecordMCPRequest(ctx, req.Method, "none")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case MethodPing:
		d.metrics.RecordMCPRequest(ctx, req.Method, "none")
		writeJSON(w, http.StatusOK, jsonrpc.NewResult(req.ID, "pong"))
		return
	case MethodInitialize, MethodToolsList, MethodToolsCall:
	default:
		d.metrics.RecordMCPRequest(ctx, req.Method, "none")
		d.writeError(w, req.ID, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "Method not found: "+req.Method, nil), http.StatusNotFound)
		return
	}

	auth, err := d.resolver.Resolve(ctx, sessionID)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		d.logger.Error("Failed to resolve session", logging.SessionID(sessionID), logging.Err(err))
		d.writeError(w, req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "Internal error", nil), http.StatusInternalServerError)
		return
	}
	d.metrics.RecordMCPRequest(ctx, req.Method, string(auth.State))
	span.SetAttributes(instrumentation.NewSpanAttributeBuilder().WithAuthState(string(auth.State)).Build()...)

	if req.Method == MethodInitialize {
		writeJSON(w, http.StatusOK, jsonrpc.NewResult(req.ID, d.initialize(auth, mcpPath)))
		return
	}

	if !auth.Authenticated() {
		d.authRequired(w, r, req.ID, auth.AuthURL)
		return
	}

	if req.Method == MethodToolsList {
		writeJSON(w, http.StatusOK, jsonrpc.NewResult(req.ID, mcp.ListToolsResult{Tools: d.tools.List()}))
		return
	}

	result, rpcErr, status := d.callTool(ctx, req.Params, auth)
	if rpcErr != nil {
		instrumentation.SetSpanError(span, rpcErr)
		d.writeError(w, req.ID, rpcErr, status)
		return
	}
	instrumentation.SetSpanSuccess(span)
	writeJSON(w, http.StatusOK, jsonrpc.NewResult(req.ID, result))
}

// InitializeResult is the result of initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    Capabilities       `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`

	// AuthURL is only set for unauthenticated sessions.
	AuthURL string `json:"authUrl,omitempty"`
}

// Capabilities is the server capability set advertised by initialize.
type Capabilities struct {
	Tools        map[string]any `json:"tools"`
	Experimental map[string]any `json:"experimental,omitempty"`
}

func (d *Dispatcher) initialize(auth AuthResult, mcpPath string) InitializeResult {
	res := InitializeResult{
		ProtocolVersion: oauth.ProtocolVersion,
		Capabilities: Capabilities{
			Tools: map[string]any{},
			Experimental: map[string]any{
				"oauth": d.metadata.OAuthCapability(mcpPath),
			},
		},
		ServerInfo: d.serverInfo,
	}
	if !auth.Authenticated() {
		res.AuthURL = auth.AuthURL
	}
	return res
}

// authRequired answers a request that needs a login. Browser-style callers,
// which prefer text/html, are redirected to the login URL; everyone else
// gets a JSON-RPC error carrying it.
func (d *Dispatcher) authRequired(w http.ResponseWriter, r *http.Request, id json.RawMessage, authURL string) {
	if prefersHTML(r) {
		http.Redirect(w, r, authURL, http.StatusFound)
		return
	}

	d.writeError(w, id, jsonrpc.NewError(jsonrpc.CodeAuthRequired, "Authentication required", map[string]string{
		"authUrl": authURL,
	}), http.StatusUnauthorized)
}

func prefersHTML(r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return false
	}
	mt, _, err := contenttype.GetAcceptableMediaType(r, authRequiredMediaTypes)
	if err != nil {
		return false
	}
	return mt.Type == htmlMediaType.Type && mt.Subtype == htmlMediaType.Subtype
}

func (d *Dispatcher) writeError(w http.ResponseWriter, id json.RawMessage, rpcErr *jsonrpc.Error, status int) {
	if status >= http.StatusInternalServerError {
		d.logger.Error("JSON-RPC error", "code", rpcErr.Code, "message", rpcErr.Message)
	} else {
		d.logger.Debug("JSON-RPC error", "code", rpcErr.Code, "message", rpcErr.Message)
	}
	writeJSON(w, status, jsonrpc.NewErrorResponse(id, rpcErr))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// callParams are the params of tools/call.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// callTool runs a tools/call request. It returns either a result or a
// JSON-RPC error with the HTTP status to send it with.
func (d *Dispatcher) callTool(ctx context.Context, raw json.RawMessage, auth AuthResult) (*mcp.CallToolResult, *jsonrpc.Error, int) {
	var params callParams
	if len(raw) == 0 {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params", "params are required"), http.StatusBadRequest
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params", err.Error()), http.StatusBadRequest
	}
	if params.Name == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params", "tool name is required"), http.StatusBadRequest
	}

	tool, ok := d.tools.Get(params.Name)
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "Tool not found: "+params.Name, nil), http.StatusNotFound
	}

	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}
	if err := tools.ValidateArguments(tool.Definition, params.Arguments); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error(), nil), http.StatusBadRequest
	}

	caller := tools.Caller{SessionToken: auth.Token}
	if auth.User != nil {
		caller.UserID = auth.User.ID
		caller.Email = auth.User.Email
	}

	start := time.Now()
	value, err := invoke(ctx, tool, params.Arguments, caller)

	var failure tools.ToolFailure
	switch {
	case err == nil:
		d.logger.Debug("Tool executed", logging.Tool(params.Name), "duration", time.Since(start))
		return formatResult(value), nil, 0
	case errors.As(err, &failure):
		d.logger.Info("Tool failed", logging.Tool(params.Name), logging.Err(err))
		return errorResult(failure.Error()), nil, 0
	default:
		d.logger.Error("Tool execution error", logging.Tool(params.Name), logging.Err(err))
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil), http.StatusInternalServerError
	}
}

// invoke calls the tool handler, converting a panic into an error.
func invoke(ctx context.Context, tool tools.Tool, args map[string]any, caller tools.Caller) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), p)
		}
	}()
	return tool.Handler(ctx, args, caller)
}
