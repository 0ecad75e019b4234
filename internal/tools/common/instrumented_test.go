package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/tools"
)

func newMetrics(t *testing.T) *instrumentation.Metrics {
	t.Helper()
	m, err := instrumentation.NewMetrics(noop.NewMeterProvider().Meter("test"), true)
	require.NoError(t, err)
	return m
}

func TestInstrumentedHandler_Success(t *testing.T) {
	var gotCaller tools.Caller
	handler := func(ctx context.Context, args map[string]any, caller tools.Caller) (any, error) {
		gotCaller = caller
		return map[string]any{"ok": true}, nil
	}

	var buf bytes.Buffer
	audit := instrumentation.NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	wrapped := InstrumentedHandler("build_app", Instrumentation{Metrics: newMetrics(t), Audit: audit}, handler)

	caller := tools.Caller{UserID: "u1", Email: "jane@example.com", SessionToken: "secret"}
	result, err := wrapped(context.Background(), map[string]any{"prompt": "x"}, caller)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
	assert.Equal(t, caller, gotCaller)

	out := buf.String()
	assert.Contains(t, out, "tool_executed")
	assert.Contains(t, out, "tool=build_app")
	assert.Contains(t, out, "user_domain=example.com")
	assert.NotContains(t, out, "jane@example.com")
	assert.NotContains(t, out, "secret")
}

func TestInstrumentedHandler_Error(t *testing.T) {
	expected := &tools.ToolError{Message: "No credits left"}
	handler := func(context.Context, map[string]any, tools.Caller) (any, error) {
		return nil, expected
	}

	var buf bytes.Buffer
	audit := instrumentation.NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	wrapped := InstrumentedHandler("check_credits", Instrumentation{Metrics: newMetrics(t), Audit: audit}, handler)

	_, err := wrapped(context.Background(), nil, tools.Caller{})
	assert.True(t, errors.Is(err, expected))
	assert.Contains(t, buf.String(), "tool_failed")
	assert.Contains(t, buf.String(), "No credits left")
}

func TestInstrumentedHandler_NoInstrumentation(t *testing.T) {
	called := false
	handler := func(context.Context, map[string]any, tools.Caller) (any, error) {
		called = true
		return "done", nil
	}

	result, err := InstrumentedHandler("t", Instrumentation{}, handler)(context.Background(), nil, tools.Caller{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "done", result)
}

func TestInstrumentedHandler_DebugLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := func(context.Context, map[string]any, tools.Caller) (any, error) {
		return "done", nil
	}
	_, err := InstrumentedHandler("check_credits", Instrumentation{Logger: logger}, handler)(
		context.Background(), nil, tools.Caller{Email: "jane@example.com"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Tool invocation finished")
	assert.Contains(t, out, "tool=check_credits")
	assert.Contains(t, out, "status=success")
	assert.Contains(t, out, "user_domain=example.com")
	assert.NotContains(t, out, "jane@")
}
