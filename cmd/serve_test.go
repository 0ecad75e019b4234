package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServeConfig_Precedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "mcpbridge.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: ":7000"
  base_url: https://file.example.com
backend:
  auth_url: https://auth.file.example.com
  app_url: https://app.example.com
redis:
  addr: file-redis:6379
`), 0o600))

	t.Setenv("MCP_BASE_URL", "https://env.example.com")
	t.Setenv("REDIS_ADDR", "env-redis:6379")

	opts := &serveOptions{}
	cmd := newServeCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", file,
		"--redis-addr", "flag-redis:6379",
		"--session-store", "redis",
		"--debug",
	}))

	cfg, err := loadServeConfig(cmd, opts)
	require.NoError(t, err)

	// File only
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "https://auth.file.example.com", cfg.Backend.AuthURL)
	// Env beats file
	assert.Equal(t, "https://env.example.com", cfg.Server.BaseURL)
	// Flag beats env
	assert.Equal(t, "flag-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "redis", cfg.Session.Store)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset flags keep their loaded values
	assert.Equal(t, 10, cfg.RateLimit.Rate)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadServeConfig_Invalid(t *testing.T) {
	opts := &serveOptions{}
	cmd := newServeCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{
		"--base-url", "http://mcp.example.com",
		"--auth-url", "https://auth.example.com",
		"--app-url", "https://app.example.com",
	}))

	_, err := loadServeConfig(cmd, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "HTTPS")
}

func TestApplyFlagOverrides_AllFlags(t *testing.T) {
	opts := &serveOptions{}
	cmd := newServeCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{
		"--base-url", "https://mcp.example.com",
		"--auth-url", "https://auth.example.com",
		"--app-url", "https://app.example.com",
		"--mcp-path", "/api/mcp",
		"--auth-page-url", "https://app.example.com/login",
		"--oauth-scopes", "openid,email",
		"--rate-limit", "0",
		"--metrics-enabled=false",
		"--trust-proxy",
	}))

	cfg, err := loadServeConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, "/api/mcp", cfg.Server.MCPPath)
	assert.Equal(t, "https://app.example.com/login", cfg.OAuth.AuthPageURL)
	assert.Equal(t, []string{"openid", "email"}, cfg.OAuth.Scopes)
	assert.Equal(t, 0, cfg.RateLimit.Rate)
	assert.False(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Server.TrustProxy)
}

func TestGenerateToolsDocs(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runGenerateDocs(&out, ""))

	md := out.String()
	assert.Contains(t, md, "# MCP Tools Reference")
	assert.Contains(t, md, "### build_app")
	assert.Contains(t, md, "### check_credits")
	assert.Contains(t, md, "- `prompt` (required): Description of the app to build")
	assert.Contains(t, md, "- `email` (optional):")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("build_app")), bytes.Index(out.Bytes(), []byte("check_credits")))
}

func TestGenerateToolsDocs_ToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.md")

	var out bytes.Buffer
	require.NoError(t, runGenerateDocs(&out, path))
	assert.Empty(t, out.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "### check_credits")
}

func TestVersionCmd(t *testing.T) {
	SetVersion("1.2.3")
	t.Cleanup(func() { SetVersion("dev") })

	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "mcpbridge version 1.2.3\n", out.String())
}
