// Package calendar_tools provides the MCP tools for Google Calendar: the
// calendar account management tools and calendar_list_events.
package calendar_tools
