package common

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sumeria/sumeria/internal/instrumentation"
	"github.com/sumeria/sumeria/internal/logging"
	"github.com/sumeria/sumeria/internal/server"
)

// InstrumentedToolHandler wraps a tool handler with a span, invocation
// metrics and a debug log line. A result with IsError counts as an error.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandler("my_tool", "gmail", sc, handler))
func InstrumentedToolHandler(toolName, service string, sc *server.ServerContext, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		account := GetAccountFromArgs(request.GetArguments())
		attrs := instrumentation.NewSpanAttributeBuilder().
			WithTool(toolName).
			WithService(service).
			WithAccount(account).
			Build()
		ctx, span := instrumentation.StartToolSpan(ctx, toolName, attrs...)
		defer span.End()

		start := time.Now()
		result, err := handler(ctx, request)
		duration := time.Since(start)

		status := instrumentation.StatusSuccess
		switch {
		case err != nil:
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		case result != nil && result.IsError:
			status = instrumentation.StatusError
			span.SetAttributes(attribute.String(instrumentation.SpanAttrStatus, status))
		default:
			instrumentation.SetSpanSuccess(span)
		}

		sc.Metrics().RecordToolInvocationWithAccount(ctx, toolName, status, account, duration)
		logAttrs := []any{
			logging.Tool(toolName),
			logging.Service(service),
			logging.Status(status),
			logging.Err(err),
			"duration", duration,
		}
		if account != "" {
			logAttrs = append(logAttrs, logging.Domain(account))
		}
		if traceID := instrumentation.GetTraceID(ctx); traceID != "" {
			logAttrs = append(logAttrs, "trace_id", traceID)
		}
		sc.Logger().Debug("tool invoked", logAttrs...)

		return result, err
	}
}
