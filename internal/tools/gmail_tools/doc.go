// Package gmail_tools provides the MCP tools for Gmail: the gmail account
// management tools and gmail_search_messages.
//
// Every tool takes an optional account argument; without it the registry's
// default account is used and the call fails with a hint when none is set.
package gmail_tools
