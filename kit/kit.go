// Package kit holds cross-transport plumbing shared by domheal services:
// the Endpoint abstraction, MCP tool registration, and context keys.
package kit

import "context"

// Endpoint is a transport-agnostic service function. HTTP handlers and
// MCP tools both decode into a typed request and invoke an Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)
