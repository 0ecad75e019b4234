// Package tools defines the MCP tools exposed by mcpbridge and the registry the
// dispatcher resolves them from.
//
// A tool pairs an mcp.Tool definition (name, description, input schema) with a
// HandlerFunc. Arguments are validated against the input schema before the
// handler runs, and the handler receives the authenticated Caller explicitly.
//
// Tool implementations live in subpackages, e.g. blackbox_tools.
package tools
