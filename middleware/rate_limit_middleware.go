package middleware

import (
	"context"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"

	"sila-rpc/message"
)

// RateLimitMiddleware admits r requests per second with the given burst, token
// bucket style. Rejected calls fail with ResourceExhausted without reaching next.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return message.Failure(req.ServiceMethod, codes.ResourceExhausted, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
