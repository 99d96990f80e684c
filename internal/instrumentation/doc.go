// Package instrumentation provides OpenTelemetry instrumentation for sumeria.
//
// # Metrics
//
// Google API Metrics:
//   - google_api_operations_total: Counter of provider operations by service, operation, status
//   - google_api_operation_duration_seconds: Histogram of operation durations including retries
//   - google_api_retries_total: Counter of retried attempts by service, operation, error kind
//
// OAuth Metrics:
//   - oauth_authorization_total: Counter of interactive authorizations by service and result
//   - oauth_token_refresh_total: Counter of token refresh attempts by service and result
//   - credential_persist_failures_total: Counter of credentials that could not be saved
//
// MCP Tool Metrics:
//   - mcp_tool_invocations_total: Counter of MCP tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of MCP tool execution durations
//
// # Tracing
//
// Spans are created for MCP tool invocations (tool.<name>) and provider calls
// (google.<service>.<operation>), with one event per retried attempt.
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_EXPORTER_OTLP_INSECURE: Disable TLS for OTLP export (default: false)
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: sumeria)
//   - OTEL_SERVICE_INSTANCE_ID: Instance identifier (default: hostname)
//   - METRICS_DETAILED_LABELS: Add the account domain to tool metrics (default: false)
//
// Every exported resource carries sumeria.services and, when known,
// sumeria.token_store. With the prometheus exporter, Provider.Handler serves
// a registry private to the provider.
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
//	recorder.RecordGoogleAPIOperation(ctx, "gmail", "list", "success", time.Since(start))
package instrumentation
