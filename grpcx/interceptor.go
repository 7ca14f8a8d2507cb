// Package grpcx carries SiLA errors across gRPC the same way the framed transport does:
// as an Aborted status whose message is the base64 error envelope.
//
// Server interceptors convert handler errors; client interceptors run the Detector so
// callers get typed errors back.
package grpcx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"sila-rpc/logging"
	"sila-rpc/silaerr"
)

type options struct {
	log     *zerolog.Logger
	catalog *silaerr.Catalog
}

type Option func(*options)

// WithLogger replaces the "grpc" component logger used for unexpected failures.
func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithCatalog resolves defined execution errors on the client side.
func WithCatalog(c *silaerr.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Component("grpc")
	}
	return o
}

// ToStatus converts a handler error into the error a gRPC handler returns. SiLA errors
// become Aborted statuses; status and context errors pass through; anything else is
// wrapped as an undefined execution error so internal types never reach the client.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := silaerr.As(err); ok {
		return silaerr.StatusError(se)
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return silaerr.StatusError(silaerr.Wrap(err))
}

func (o options) convert(method string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := silaerr.As(err); !ok {
		if _, isStatus := status.FromError(err); !isStatus {
			o.log.Error().Err(err).Str("method", method).Msg("handler failed")
		}
	}
	return ToStatus(err)
}

func (o options) recovered(method string, r any) error {
	o.log.Error().Str("method", method).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panicked")
	return silaerr.StatusError(silaerr.NewUndefinedExecutionError(fmt.Sprintf("panic: %v", r)))
}

// UnaryServerInterceptor converts handler errors and panics with ToStatus.
func UnaryServerInterceptor(opts ...Option) grpc.UnaryServerInterceptor {
	o := newOptions(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				resp, err = nil, o.recovered(info.FullMethod, r)
			}
		}()
		resp, err = handler(ctx, req)
		if err != nil {
			return nil, o.convert(info.FullMethod, err)
		}
		return resp, nil
	}
}

// StreamServerInterceptor is UnaryServerInterceptor for streaming handlers.
func StreamServerInterceptor(opts ...Option) grpc.StreamServerInterceptor {
	o := newOptions(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = o.recovered(info.FullMethod, r)
			}
		}()
		return o.convert(info.FullMethod, handler(srv, ss))
	}
}

// UnaryClientInterceptor upgrades Aborted statuses that carry an envelope to typed
// SiLA errors. Other failures are returned unchanged.
func UnaryClientInterceptor(opts ...Option) grpc.UnaryClientInterceptor {
	d := silaerr.Detector{Catalog: newOptions(opts).catalog}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		return d.Upgrade(invoker(ctx, method, req, reply, cc, callOpts...))
	}
}

// StreamClientInterceptor upgrades errors from opening the stream and from RecvMsg.
func StreamClientInterceptor(opts ...Option) grpc.StreamClientInterceptor {
	d := silaerr.Detector{Catalog: newOptions(opts).catalog}
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
		cs, err := streamer(ctx, desc, cc, method, callOpts...)
		if err != nil {
			return nil, d.Upgrade(err)
		}
		return &detectingStream{ClientStream: cs, d: d}, nil
	}
}

type detectingStream struct {
	grpc.ClientStream
	d silaerr.Detector
}

func (s *detectingStream) RecvMsg(m any) error {
	err := s.ClientStream.RecvMsg(m)
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	return s.d.Upgrade(err)
}
