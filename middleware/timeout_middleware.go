package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"

	"sila-rpc/message"
)

// TimeOutMiddleware bounds a call to timeout. The handler keeps running after the
// deadline but its result is dropped; handlers should watch ctx.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case rpcMessage := <-done:
				return rpcMessage
			case <-ctx.Done():
				return message.Failure(req.ServiceMethod, codes.DeadlineExceeded, "request timed out")
			}
		}
	}
}
