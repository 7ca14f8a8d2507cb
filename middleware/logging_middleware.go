package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"

	"sila-rpc/logging"
	"sila-rpc/message"
	"sila-rpc/silaerr"
)

// LoggingMiddleware logs every call with its duration and status. SiLA errors are
// logged by kind; their envelope is decoded for the log line only. A nil logger uses
// the "rpc" component logger.
func LoggingMiddleware(logger *zerolog.Logger) Middleware {
	if logger == nil {
		logger = logging.Component("rpc")
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)

			if !resp.Failed() {
				logger.Debug().Str("method", req.ServiceMethod).Dur("duration", duration).Msg("call")
				return resp
			}
			ev := logger.Warn().
				Str("method", req.ServiceMethod).
				Dur("duration", duration).
				Str("code", resp.Status.String())
			if resp.Status == codes.Aborted {
				if se, err := silaerr.Decode(resp.Error); err == nil {
					ev = ev.Str("sila_kind", se.Kind().String()).Str("sila_detail", se.Detail())
				}
			} else {
				ev = ev.Str("error", resp.Error)
			}
			ev.Msg("call failed")
			return resp
		}
	}
}
