// Package common provides shared utilities for MCP tool implementations:
// argument helpers, error rendering, the instrumentation wrapper and the
// per-service account management tools.
package common
