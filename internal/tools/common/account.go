package common

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sumeria/sumeria/internal/apperr"
)

// AccountDescription is the shared description of the optional account argument.
const AccountDescription = "Account email address. When omitted the default account is used."

// GetAccountFromArgs returns the "account" argument, or "" so the registry
// resolves the default account.
func GetAccountFromArgs(args map[string]any) string {
	if account, ok := args["account"].(string); ok {
		return account
	}
	return ""
}

// RequiredString returns a non-empty string argument.
func RequiredString(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

// ErrorResult renders err as a tool error with a hint for the known kinds.
func ErrorResult(action string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("Failed to %s: %v", action, err)
	if hint := hintFor(err); hint != "" {
		msg += "\n\n" + hint
	}
	return mcp.NewToolResultError(msg)
}

func hintFor(err error) string {
	switch apperr.Kind(err) {
	case apperr.KindNoDefaultAccount:
		return "Pass the account argument or set a default account first."
	case apperr.KindAccountNotFound:
		return "Add the account first; it has no stored credentials."
	case apperr.KindMissingCredentialsFile:
		return "Configure the OAuth client secrets file (credentials_file) to authorize new accounts."
	case apperr.KindAuthorizationDenied:
		return "The stored authorization was rejected. Remove and add the account again."
	case apperr.KindTransient:
		return "The provider is temporarily unavailable. Try again later."
	case apperr.KindTimeout:
		return "The operation timed out."
	}
	return ""
}

// JSONResult renders v as indented JSON text.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
