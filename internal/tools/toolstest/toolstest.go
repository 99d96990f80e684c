// Package toolstest builds a wired ServerContext and drives MCP tools through
// the JSON-RPC entry point of an mcp-go server.
package toolstest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sumeria/sumeria/internal/config"
	"github.com/sumeria/sumeria/internal/oauth"
	"github.com/sumeria/sumeria/internal/oauth/oauthtest"
	"github.com/sumeria/sumeria/internal/server"
)

// Env is a ServerContext backed by temporary token directories and an
// authorizer that always succeeds.
type Env struct {
	Config     config.Config
	Options    server.BuildOptions
	Authorized atomic.Int64
}

// NewEnv returns an Env whose API endpoints can be pointed at fakes before Build.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	ts := oauthtest.NewTokenServer(t)
	secrets := oauthtest.WriteClientSecrets(t, t.TempDir(), ts.TokenURL())
	root := t.TempDir()

	env := &Env{Config: config.Default()}
	env.Config.Gmail.CredentialsFile = secrets
	env.Config.Gmail.TokensDir = filepath.Join(root, "gmail")
	env.Config.Calendar.CredentialsFile = secrets
	env.Config.Calendar.TokensDir = filepath.Join(root, "calendar")
	env.Config.Retry.BaseDelay = time.Millisecond
	env.Config.Retry.MaxDelay = 5 * time.Millisecond
	env.Options = server.BuildOptions{
		HTTPClient: ts.Client(),
		Authorizer: oauth.AuthorizerFunc(func(context.Context, *oauth2.Config, string) (*oauth2.Token, error) {
			env.Authorized.Add(1)
			return &oauth2.Token{
				AccessToken:  "access",
				RefreshToken: "refresh",
				TokenType:    "Bearer",
				Expiry:       time.Now().Add(time.Hour),
			}, nil
		}),
	}
	return env
}

// Build wires the ServerContext and shuts it down with the test.
func (env *Env) Build(t testing.TB) *server.ServerContext {
	t.Helper()
	sc, err := server.Build(context.Background(), env.Config, env.Options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

// NewMCPServer returns an empty MCP server with tool support.
func NewMCPServer() *mcpserver.MCPServer {
	return mcpserver.NewMCPServer("sumeria-test", "test", mcpserver.WithToolCapabilities(true))
}

// Result is the decoded outcome of a tools/call request.
type Result struct {
	Text    string
	IsError bool
}

// Call invokes tool with args and returns the concatenated text content.
// A JSON-RPC level error fails the test.
func Call(t testing.TB, s *mcpserver.MCPServer, tool string, args map[string]any) Result {
	t.Helper()
	ctx := context.Background()
	send(t, s, ctx, map[string]any{
		"jsonrpc": "2.0",
		"id":      0,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "toolstest", "version": "test"},
		},
	})
	raw := send(t, s, ctx, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	})

	var resp struct {
		Result *struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Nil(t, resp.Error, "tools/call %s returned a JSON-RPC error", tool)
	require.NotNil(t, resp.Result)

	res := Result{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			res.Text += c.Text
		}
	}
	return res
}

// ToolNames lists the registered tools.
func ToolNames(t testing.TB, s *mcpserver.MCPServer) []string {
	t.Helper()
	raw := send(t, s, context.Background(), map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	names := make([]string, 0, len(resp.Result.Tools))
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func send(t testing.TB, s *mcpserver.MCPServer, ctx context.Context, msg map[string]any) []byte {
	t.Helper()
	req, err := json.Marshal(msg)
	require.NoError(t, err)
	out, err := json.Marshal(s.HandleMessage(ctx, req))
	require.NoError(t, err)
	return out
}
