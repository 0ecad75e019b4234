// Package blackbox_tools provides the MCP tools backed by the app API:
// build_app and check_credits.
package blackbox_tools
