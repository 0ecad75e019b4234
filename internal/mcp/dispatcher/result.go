package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// formatResult wraps a tool's return value. Strings are sent as they are,
// anything else as indented JSON. JSON objects are also attached as
// structured content.
func formatResult(v any) *mcp.CallToolResult {
	if s, ok := v.(string); ok {
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(s)}}
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode tool result: %v", err))
	}

	res := &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(string(b))}}
	if obj := asObject(v, b); obj != nil {
		res.StructuredContent = obj
	}
	return res
}

// asObject returns v as a JSON object, or nil if it does not encode to one.
func asObject(v any, encoded []byte) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	if len(encoded) == 0 || encoded[0] != '{' {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(encoded, &m); err != nil {
		return nil
	}
	return m
}

// errorResult is the error-shaped result of a failed tool execution.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.NewTextContent(msg)},
		StructuredContent: map[string]any{"error": msg},
		IsError:           true,
	}
}
