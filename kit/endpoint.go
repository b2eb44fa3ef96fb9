// Package kit is the transport-agnostic endpoint plumbing: an endpoint
// is a function taking a typed request and returning a typed response,
// wrapped by middleware and exposed over HTTP or MCP.
package kit

import "context"

// Endpoint is one operation, transport-independent.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first argument is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
