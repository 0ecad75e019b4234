package blackbox_tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/blackbox"
	"github.com/teemow/mcpbridge/internal/tools"
	"github.com/teemow/mcpbridge/internal/tools/common"
)

type fakeApp struct {
	buildErr   error
	creditsErr error

	gotToken  string
	gotUserID string
	gotPrompt string
	gotEmail  string
}

func (f *fakeApp) BuildApp(_ context.Context, token, userID, prompt string) (map[string]any, error) {
	f.gotToken, f.gotUserID, f.gotPrompt = token, userID, prompt
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return map[string]any{"appId": "app-1"}, nil
}

func (f *fakeApp) Credits(_ context.Context, token, email string) (map[string]any, error) {
	f.gotToken, f.gotEmail = token, email
	if f.creditsErr != nil {
		return nil, f.creditsErr
	}
	return map[string]any{"credits": 10.0, "email": "backend-echo@example.com"}, nil
}

type fakeSessions struct {
	session *backendauth.BackendSession
	err     error
}

func (f fakeSessions) GetSession(context.Context, string) (*backendauth.BackendSession, error) {
	return f.session, f.err
}

func registry(t *testing.T, app AppClient, sessions SessionLookup) *tools.Registry {
	t.Helper()
	r, err := tools.NewRegistry(Tools(app, sessions, common.Instrumentation{})...)
	require.NoError(t, err)
	return r
}

func call(t *testing.T, r *tools.Registry, name string, args map[string]any, caller tools.Caller) (any, error) {
	t.Helper()
	tool, ok := r.Get(name)
	require.True(t, ok, "tool %s not registered", name)
	require.NoError(t, tools.ValidateArguments(tool.Definition, args))
	return tool.Handler(context.Background(), args, caller)
}

func TestToolDefinitions(t *testing.T) {
	r := registry(t, &fakeApp{}, fakeSessions{})
	assert.Equal(t, []string{BuildAppTool, CheckCreditsTool}, r.Names())

	build, _ := r.Get(BuildAppTool)
	assert.Equal(t, []string{"prompt"}, build.Definition.InputSchema.Required)
	assert.Error(t, tools.ValidateArguments(build.Definition, map[string]any{}))

	credits, _ := r.Get(CheckCreditsTool)
	assert.Empty(t, credits.Definition.InputSchema.Required)
}

func TestBuildApp(t *testing.T) {
	app := &fakeApp{}
	r := registry(t, app, fakeSessions{})

	result, err := call(t, r, BuildAppTool, map[string]any{"prompt": "a todo app"},
		tools.Caller{UserID: "u1", Email: "jane@example.com", SessionToken: "tok"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"appId": "app-1"}, result)
	assert.Equal(t, "tok", app.gotToken)
	assert.Equal(t, "u1", app.gotUserID)
	assert.Equal(t, "a todo app", app.gotPrompt)
}

func TestBuildApp_BackendError(t *testing.T) {
	app := &fakeApp{buildErr: &blackbox.APIError{StatusCode: 402, Message: "Insufficient credits"}}
	r := registry(t, app, fakeSessions{})

	_, err := call(t, r, BuildAppTool, map[string]any{"prompt": "x"}, tools.Caller{SessionToken: "tok"})

	var toolErr *tools.ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "Insufficient credits", toolErr.Message)
}

func TestBuildApp_EmptyPrompt(t *testing.T) {
	r := registry(t, &fakeApp{}, fakeSessions{})
	_, err := call(t, r, BuildAppTool, map[string]any{"prompt": ""}, tools.Caller{})

	var toolErr *tools.ToolError
	assert.True(t, errors.As(err, &toolErr))
}

func TestCheckCredits_UsesAuthenticatedEmail(t *testing.T) {
	app := &fakeApp{}
	r := registry(t, app, fakeSessions{})

	result, err := call(t, r, CheckCreditsTool, map[string]any{"email": "someone-else@example.com"},
		tools.Caller{UserID: "u1", Email: "jane@example.com", SessionToken: "tok"})

	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", app.gotEmail)
	assert.Equal(t, "jane@example.com", result.(map[string]any)["email"])
}

func TestCheckCredits_LooksUpEmail(t *testing.T) {
	tests := []struct {
		name      string
		sessions  fakeSessions
		wantEmail string
		wantErr   string
	}{
		{
			name:      "resolved from backend session",
			sessions:  fakeSessions{session: &backendauth.BackendSession{User: &backendauth.User{ID: "u1", Email: "jane@example.com"}}},
			wantEmail: "jane@example.com",
		},
		{
			name:     "lookup fails",
			sessions: fakeSessions{err: errors.New("connection refused")},
			wantErr:  "Failed to get user info",
		},
		{
			name:     "no email on user",
			sessions: fakeSessions{session: &backendauth.BackendSession{User: &backendauth.User{ID: "u1"}}},
			wantErr:  "User email not found",
		},
		{
			name:     "no user",
			sessions: fakeSessions{session: &backendauth.BackendSession{}},
			wantErr:  "User email not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &fakeApp{}
			r := registry(t, app, tt.sessions)

			result, err := call(t, r, CheckCreditsTool, map[string]any{}, tools.Caller{UserID: "u1", SessionToken: "tok"})
			if tt.wantErr != "" {
				var toolErr *tools.ToolError
				require.True(t, errors.As(err, &toolErr))
				assert.Equal(t, tt.wantErr, toolErr.Message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, result.(map[string]any)["email"])
		})
	}
}

func TestCheckCredits_TransportError(t *testing.T) {
	app := &fakeApp{creditsErr: errors.New("dial tcp: connection refused")}
	r := registry(t, app, fakeSessions{})

	_, err := call(t, r, CheckCreditsTool, nil, tools.Caller{Email: "jane@example.com"})

	var toolErr *tools.ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Contains(t, toolErr.Message, "connection refused")
}
