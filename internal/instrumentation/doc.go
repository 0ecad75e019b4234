// Package instrumentation provides OpenTelemetry instrumentation for the
// mcpbridge server.
//
// # Metrics
//
// Server/HTTP:
//   - http_requests_total, http_request_duration_seconds
//   - active_sessions: MCP sessions currently bound to a backend session
//
// Backend:
//   - backend_api_operations_total, backend_api_operation_duration_seconds
//     by service (auth, app), operation and status
//
// Auth:
//   - oauth_auth_total: login callback completions by result
//   - oauth_token_validation_total: get-session validations by result
//   - oauth_token_refresh_total: refresh-session attempts by result
//
// MCP:
//   - mcp_requests_total: JSON-RPC requests by method and auth state
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds
//
// # Tracing
//
// Spans are created for each JSON-RPC request (mcp.<method>), each tool call
// (tool.<name>) and each backend call (backend.<service>.<operation>).
//
// # Configuration
//
// Config is filled from the telemetry section of the mcpbridge configuration
// (INSTRUMENTATION_ENABLED, METRICS_EXPORTER, TRACING_EXPORTER,
// OTEL_EXPORTER_OTLP_ENDPOINT, ...). With the prometheus exporter the
// provider keeps its own registry, exposed through Gatherer, which also
// carries the Go runtime and process collectors.
//
// active_sessions is only maintained by the in-memory session store.
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	recorder := provider.Metrics()
//	recorder.RecordBackendOperation(ctx, instrumentation.ServiceAuth,
//		instrumentation.OperationGetSession, instrumentation.StatusSuccess, time.Since(start))
package instrumentation
