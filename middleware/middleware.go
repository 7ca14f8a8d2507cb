// Package middleware wraps RPC handlers in the onion model: Chain(A, B)(h) runs
// A.before, B.before, h, B.after, A.after. The same HandlerFunc shape serves the
// server's business handler and the client's call path.
package middleware

import (
	"context"

	"sila-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, first argument outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
