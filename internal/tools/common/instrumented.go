package common

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/tools"
)

// Instrumentation is what InstrumentedHandler records into. All fields may be nil.
type Instrumentation struct {
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
}

// InstrumentedHandler wraps a tool handler with a tracing span, tool metrics
// and an audit log line.
//
// Usage:
//
//	tools.Tool{Definition: def, Handler: common.InstrumentedHandler("build_app", inst, h)}
func InstrumentedHandler(toolName string, inst Instrumentation, handler tools.HandlerFunc) tools.HandlerFunc {
	return func(ctx context.Context, args map[string]any, caller tools.Caller) (any, error) {
		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		defer span.End()

		start := time.Now()
		invocation := instrumentation.NewToolInvocation(toolName).
			WithSpanContext(ctx).
			WithUser(caller.UserID, caller.Email)

		result, err := handler(ctx, args, caller)
		duration := time.Since(start)

		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
			invocation.CompleteWithError(err)
			instrumentation.SetSpanError(span, err)
		} else {
			invocation.CompleteSuccess()
			instrumentation.SetSpanSuccess(span)
		}

		inst.Metrics.RecordToolInvocationWithUser(ctx, toolName, status, caller.Email, duration)
		inst.Audit.LogToolInvocation(invocation)
		if inst.Logger != nil {
			logging.WithTool(inst.Logger, toolName).Debug("Tool invocation finished",
				logging.Status(status),
				logging.Domain(caller.Email),
				slog.Duration("duration", duration))
		}

		return result, err
	}
}
