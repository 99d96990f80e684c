package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumeria/sumeria/internal/tools/toolstest"
)

func TestAccountTools(t *testing.T) {
	env := toolstest.NewEnv(t)
	sc := env.Build(t)
	s := toolstest.NewMCPServer()
	RegisterAccountTools(s, sc, sc.Gmail())

	assert.ElementsMatch(t, []string{
		"gmail_list_accounts",
		"gmail_add_account",
		"gmail_remove_account",
		"gmail_set_default_account",
	}, toolstest.ToolNames(t, s))

	listed := func() AccountList {
		t.Helper()
		res := toolstest.Call(t, s, "gmail_list_accounts", nil)
		require.False(t, res.IsError, res.Text)
		var list AccountList
		require.NoError(t, json.Unmarshal([]byte(res.Text), &list))
		return list
	}

	assert.Empty(t, listed().Accounts)

	res := toolstest.Call(t, s, "gmail_add_account", map[string]any{"account": "x@y.com"})
	require.False(t, res.IsError, res.Text)
	assert.Contains(t, res.Text, "x@y.com")
	assert.EqualValues(t, 1, env.Authorized.Load())

	list := listed()
	assert.Equal(t, "gmail", list.Service)
	assert.Empty(t, list.DefaultAccount)
	require.Len(t, list.Accounts, 1)
	assert.Equal(t, "x@y.com", list.Accounts[0].Account)
	assert.True(t, list.Accounts[0].Authenticated)

	res = toolstest.Call(t, s, "gmail_set_default_account", map[string]any{"account": "x@y.com"})
	require.False(t, res.IsError, res.Text)
	assert.Equal(t, "x@y.com", listed().DefaultAccount)

	res = toolstest.Call(t, s, "gmail_remove_account", map[string]any{"account": "x@y.com"})
	require.False(t, res.IsError, res.Text)
	list = listed()
	assert.Empty(t, list.Accounts)
	assert.Empty(t, list.DefaultAccount)
}

func TestAccountTools_Errors(t *testing.T) {
	sc := toolstest.NewEnv(t).Build(t)
	s := toolstest.NewMCPServer()
	RegisterAccountTools(s, sc, sc.Calendar())

	res := toolstest.Call(t, s, "calendar_add_account", map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "account is required")

	res = toolstest.Call(t, s, "calendar_set_default_account", map[string]any{"account": "ghost@example.com"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "Add the account first")
}
