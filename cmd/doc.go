// Package cmd implements the command-line interface for sumeria.
//
// This package provides the following commands:
//   - serve: Start the MCP server on stdio
//   - accounts: add, remove, list, status and set-default per service
//   - version: Display version information
package cmd
