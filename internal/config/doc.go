// Package config loads the mcpbridge configuration.
//
// Values are resolved from lowest to highest precedence:
//
//  1. built-in defaults (Default)
//  2. an optional YAML file passed with --config
//  3. environment variables such as MCP_BASE_URL, BETTER_AUTH_URL,
//     BLACKBOX_APP_URL, SESSION_STORE and REDIS_ADDR
//  4. command line flags the user set explicitly
//
// Load covers the first three; the serve command applies changed flags on top.
package config
