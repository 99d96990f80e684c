package gmail_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sumeria/sumeria/internal/gmail"
	"github.com/sumeria/sumeria/internal/instrumentation"
	"github.com/sumeria/sumeria/internal/server"
	"github.com/sumeria/sumeria/internal/tools/common"
)

// maxSearchResults caps the maxResults argument; each hit costs one extra request.
const maxSearchResults = 100

// RegisterGmailTools registers all Gmail-related tools with the MCP server
func RegisterGmailTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if sc.Gmail() == nil {
		return fmt.Errorf("gmail registry is not configured")
	}
	common.RegisterAccountTools(s, sc, sc.Gmail())

	searchTool := mcp.NewTool("gmail_search_messages",
		mcp.WithDescription("Search Gmail messages using Gmail search syntax and return their headers, labels and attachments"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("account",
			mcp.Description(common.AccountDescription),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Gmail search query (e.g. 'from:alice is:unread newer_than:7d')"),
		),
		mcp.WithNumber("maxResults",
			mcp.Description(fmt.Sprintf("Maximum number of messages (default: %d, max: %d)", gmail.DefaultSearchResults, maxSearchResults)),
		),
	)
	s.AddTool(searchTool, common.InstrumentedToolHandler("gmail_search_messages", instrumentation.ServiceGmail, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSearchMessages(ctx, request, sc)
		}))

	return nil
}

func handleSearchMessages(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query, err := common.RequiredString(args, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var maxResults int64
	if v, ok := args["maxResults"].(float64); ok && v > 0 {
		maxResults = min(int64(v), maxSearchResults)
	}

	client, err := sc.Gmail().Client(ctx, common.GetAccountFromArgs(args))
	if err != nil {
		return common.ErrorResult("get Gmail client", err), nil
	}
	messages, err := client.SearchMessages(ctx, query, maxResults)
	if err != nil {
		return common.ErrorResult("search messages", err), nil
	}
	return common.JSONResult(messages)
}
