package blackbox_tools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mcpbridge/internal/backendauth"
	"github.com/teemow/mcpbridge/internal/blackbox"
	"github.com/teemow/mcpbridge/internal/tools"
	"github.com/teemow/mcpbridge/internal/tools/common"
)

const (
	BuildAppTool     = "build_app"
	CheckCreditsTool = "check_credits"
)

// AppClient is the subset of the app API the tools use.
type AppClient interface {
	BuildApp(ctx context.Context, token, userID, prompt string) (map[string]any, error)
	Credits(ctx context.Context, token, email string) (map[string]any, error)
}

// SessionLookup resolves the user behind a backend session token.
type SessionLookup interface {
	GetSession(ctx context.Context, token string) (*backendauth.BackendSession, error)
}

// Tools returns the app tools, each wrapped with instrumentation.
func Tools(app AppClient, sessions SessionLookup, inst common.Instrumentation) []tools.Tool {
	return []tools.Tool{
		{
			Definition: buildAppDefinition(),
			Handler:    common.InstrumentedHandler(BuildAppTool, inst, buildApp(app)),
		},
		{
			Definition: checkCreditsDefinition(),
			Handler:    common.InstrumentedHandler(CheckCreditsTool, inst, checkCredits(app, sessions)),
		},
	}
}

func buildAppDefinition() mcp.Tool {
	return mcp.NewTool(BuildAppTool,
		mcp.WithDescription("Build a web application from a natural language description. "+
			"The build runs on the app backend under the authenticated user's account and consumes credits."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Description of the app to build"),
		),
	)
}

func checkCreditsDefinition() mcp.Tool {
	return mcp.NewTool(CheckCreditsTool,
		mcp.WithDescription("Check the remaining credits of the authenticated user"),
		mcp.WithString("email",
			mcp.Description("Ignored. Credits are always reported for the authenticated user"),
		),
	)
}

func buildApp(app AppClient) tools.HandlerFunc {
	return func(ctx context.Context, args map[string]any, caller tools.Caller) (any, error) {
		prompt, _ := args["prompt"].(string)
		if prompt == "" {
			return nil, tools.NewToolError("prompt must not be empty")
		}

		result, err := app.BuildApp(ctx, caller.SessionToken, caller.UserID, prompt)
		if err != nil {
			return nil, toolError(err)
		}
		return result, nil
	}
}

func checkCredits(app AppClient, sessions SessionLookup) tools.HandlerFunc {
	return func(ctx context.Context, _ map[string]any, caller tools.Caller) (any, error) {
		email := caller.Email
		if email == "" {
			s, err := sessions.GetSession(ctx, caller.SessionToken)
			if err != nil {
				return nil, &tools.ToolError{Message: "Failed to get user info", Err: err}
			}
			if s.User == nil || s.User.Email == "" {
				return nil, tools.NewToolError("User email not found")
			}
			email = s.User.Email
		}

		result, err := app.Credits(ctx, caller.SessionToken, email)
		if err != nil {
			return nil, toolError(err)
		}

		if result == nil {
			result = map[string]any{}
		}
		// The caller may pass any email; report the one the credits belong to.
		result["email"] = email
		return result, nil
	}
}

// toolError turns app API failures into tool-level errors. Transport errors
// are tool failures too: the host should show them to the user.
func toolError(err error) error {
	var apiErr *blackbox.APIError
	if errors.As(err, &apiErr) {
		return &tools.ToolError{Message: apiErr.Message, Err: err}
	}
	return &tools.ToolError{Message: err.Error(), Err: err}
}
