package calendar_tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sumeria/sumeria/internal/calendar"
	"github.com/sumeria/sumeria/internal/instrumentation"
	"github.com/sumeria/sumeria/internal/server"
	"github.com/sumeria/sumeria/internal/tools/common"
)

// RegisterCalendarTools registers all Calendar-related tools with the MCP server
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if sc.Calendar() == nil {
		return fmt.Errorf("calendar registry is not configured")
	}
	common.RegisterAccountTools(s, sc, sc.Calendar())

	listEventsTool := mcp.NewTool("calendar_list_events",
		mcp.WithDescription("List calendar events within a time range, recurring events expanded and ordered by start time"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("account",
			mcp.Description(common.AccountDescription),
		),
		mcp.WithString("calendarId",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("timeMin",
			mcp.Description("Start of the range (RFC3339, e.g. '2026-01-01T00:00:00Z'). Defaults to now."),
		),
		mcp.WithString("timeMax",
			mcp.Description("End of the range (RFC3339, e.g. '2026-01-31T23:59:59Z')"),
		),
		mcp.WithString("query",
			mcp.Description("Optional free text search"),
		),
		mcp.WithNumber("maxResults",
			mcp.Description(fmt.Sprintf("Maximum number of events (default: %d)", calendar.DefaultMaxEvents)),
		),
	)
	s.AddTool(listEventsTool, common.InstrumentedToolHandler("calendar_list_events", instrumentation.ServiceCalendar, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListEvents(ctx, request, sc, time.Now)
		}))

	return nil
}

func handleListEvents(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, now func() time.Time) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	q := calendar.ListEventsQuery{TimeMin: now()}
	if v, ok := args["calendarId"].(string); ok {
		q.CalendarID = v
	}
	if v, ok := args["query"].(string); ok {
		q.Query = v
	}
	if v, ok := args["maxResults"].(float64); ok && v > 0 {
		q.MaxResults = int64(v)
	}
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"timeMin", &q.TimeMin}, {"timeMax", &q.TimeMax}} {
		v, ok := args[bound.name].(string)
		if !ok || v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid %s format: %v", bound.name, err)), nil
		}
		*bound.dst = t
	}
	if !q.TimeMax.IsZero() && q.TimeMax.Before(q.TimeMin) {
		return mcp.NewToolResultError("timeMax must not be before timeMin"), nil
	}

	client, err := sc.Calendar().Client(ctx, common.GetAccountFromArgs(args))
	if err != nil {
		return common.ErrorResult("get calendar client", err), nil
	}
	events, err := client.ListEvents(ctx, q)
	if err != nil {
		return common.ErrorResult("list events", err), nil
	}
	return common.JSONResult(events)
}
