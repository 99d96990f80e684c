package common

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sumeria/sumeria/internal/accounts"
	"github.com/sumeria/sumeria/internal/server"
)

// AccountList is the result of the <service>_list_accounts tool.
type AccountList struct {
	Service        string                   `json:"service"`
	DefaultAccount string                   `json:"defaultAccount,omitempty"`
	Accounts       []accounts.AccountStatus `json:"accounts"`
}

// RegisterAccountTools registers <service>_list_accounts, _add_account,
// _remove_account and _set_default_account for registry.
func RegisterAccountTools[C any](s *mcpserver.MCPServer, sc *server.ServerContext, registry *accounts.Registry[C]) {
	service := string(registry.Service())
	add := func(name string, tool mcp.Tool, handler mcpserver.ToolHandlerFunc) {
		s.AddTool(tool, InstrumentedToolHandler(name, service, sc, handler))
	}

	name := service + "_list_accounts"
	add(name, mcp.NewTool(name,
		mcp.WithDescription(fmt.Sprintf("List the %s accounts with stored credentials and the default account", service)),
		mcp.WithReadOnlyHintAnnotation(true),
	), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		statuses, err := registry.Status(ctx)
		if err != nil {
			return ErrorResult("list accounts", err), nil
		}
		return JSONResult(AccountList{
			Service:        service,
			DefaultAccount: registry.DefaultAccount(),
			Accounts:       statuses,
		})
	})

	name = service + "_add_account"
	add(name, mcp.NewTool(name,
		mcp.WithDescription(fmt.Sprintf("Authorize a %s account. Opens the Google consent page when no refreshable credential is stored.", service)),
		mcp.WithString("account", mcp.Required(), mcp.Description("Account email address to authorize")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		account, err := RequiredString(request.GetArguments(), "account")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if _, err := registry.AddAccount(ctx, account); err != nil {
			return ErrorResult("add account "+account, err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Account %s added to %s.", account, service)), nil
	})

	name = service + "_remove_account"
	add(name, mcp.NewTool(name,
		mcp.WithDescription(fmt.Sprintf("Remove a %s account and delete its stored credentials", service)),
		mcp.WithString("account", mcp.Required(), mcp.Description("Account email address to remove")),
		mcp.WithDestructiveHintAnnotation(true),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		account, err := RequiredString(request.GetArguments(), "account")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := registry.RemoveAccount(ctx, account); err != nil {
			return ErrorResult("remove account "+account, err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Account %s removed from %s.", account, service)), nil
	})

	name = service + "_set_default_account"
	add(name, mcp.NewTool(name,
		mcp.WithDescription(fmt.Sprintf("Set the %s account used when no account is given", service)),
		mcp.WithString("account", mcp.Required(), mcp.Description("Account email address with stored credentials")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		account, err := RequiredString(request.GetArguments(), "account")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := registry.SetDefaultAccount(ctx, account); err != nil {
			return ErrorResult("set default account", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Default %s account set to %s.", service, account)), nil
	})
}
