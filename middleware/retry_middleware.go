package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"

	"sila-rpc/logging"
	"sila-rpc/message"
)

// Retryable reports whether a failed call may be sent again. Only transport-level
// failures qualify; SiLA errors (Aborted) are final answers from the server.
func Retryable(code codes.Code) bool {
	return code == codes.Unavailable || code == codes.DeadlineExceeded
}

// RetryMiddleware resends retryable failures up to maxRetries times with exponential
// backoff starting at baseDelay. It gives up early when ctx is done.
//
// Binary upload chunks are not idempotent; do not put this in front of them.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	log := logging.Component("retry")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			rpcMessage := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !rpcMessage.Failed() || !Retryable(rpcMessage.Status) {
					return rpcMessage
				}
				log.Info().
					Int("attempt", i+1).
					Str("method", req.ServiceMethod).
					Str("code", rpcMessage.Status.String()).
					Msg("retrying")

				timer := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					timer.Stop()
					return rpcMessage
				case <-timer.C:
				}
				rpcMessage = next(ctx, req)
			}
			return rpcMessage
		}
	}
}
