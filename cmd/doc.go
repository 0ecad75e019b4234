// Package cmd implements the command-line interface for mcpbridge.
//
// This package provides the following commands:
//   - serve: Start the MCP HTTP server
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
package cmd
