package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
)

// Caller identifies the authenticated user a tool runs on behalf of.
type Caller struct {
	UserID string
	Email  string

	// SessionToken is the backend session token. It authenticates calls the
	// tool makes to the backend and must never be logged.
	SessionToken string
}

// HandlerFunc executes a tool. args has already been validated against the
// tool's input schema.
//
// Returning a *ToolError (or any error implementing ToolFailure) produces an
// error-shaped tool result. Any other error is reported as an internal error.
type HandlerFunc func(ctx context.Context, args map[string]any, caller Caller) (any, error)

// Tool is a registered MCP tool.
type Tool struct {
	Definition mcp.Tool
	Handler    HandlerFunc
}

// Name returns the tool's name.
func (t Tool) Name() string {
	return t.Definition.Name
}

// ToolFailure is implemented by errors that describe a failed tool execution
// rather than a broken request or server.
type ToolFailure interface {
	error
	ToolFailure() bool
}

// ToolError is a tool-level failure, usually carrying the backend's message.
type ToolError struct {
	Message string
	Err     error
}

// NewToolError creates a ToolError with a formatted message.
func NewToolError(format string, args ...any) *ToolError {
	return &ToolError{Message: fmt.Sprintf(format, args...)}
}

func (e *ToolError) Error() string {
	return e.Message
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ToolFailure implements ToolFailure.
func (e *ToolError) ToolFailure() bool { return true }

// Registry holds the tools in registration order. It is not modified after
// NewRegistry returns, so concurrent reads need no locking.
type Registry struct {
	tools []Tool
	index map[string]int
}

// NewRegistry creates a registry. Duplicate or unnamed tools are an error.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools: make([]Tool, 0, len(tools)),
		index: make(map[string]int, len(tools)),
	}

	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return nil, fmt.Errorf("tool definition has no name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", name)
		}
		if _, exists := r.index[name]; exists {
			return nil, fmt.Errorf("tool %q registered twice", name)
		}
		r.index[name] = len(r.tools)
		r.tools = append(r.tools, t)
	}

	return r, nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	i, ok := r.index[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// List returns the tool definitions in registration order.
func (r *Registry) List() []mcp.Tool {
	defs := make([]mcp.Tool, len(r.tools))
	for i, t := range r.tools {
		defs[i] = t.Definition
	}
	return defs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}
