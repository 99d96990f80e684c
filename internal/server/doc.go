// Package server assembles the long-lived state of a sumeria process.
//
// Build turns a config.Config into a ServerContext: it opens the token store
// (one directory per service, or a shared SQLite database), creates one
// retry.Invoker per service and wires the Gmail and Calendar account
// registries. Nothing touches the network until a tool or command asks a
// registry for a client.
//
// MetricsServer exposes the Prometheus scrape endpoint together with
// /healthz and /readyz on a dedicated address, since MCP traffic runs over
// stdio.
package server
