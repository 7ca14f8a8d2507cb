// Package server implements the RPC server with service registration, middleware chain,
// parallel request processing, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → businessHandler (reflect.Call) → Codec.Encode → write response
//
// Handler errors never reach the wire as Go errors. SiLA errors travel as an Aborted
// status carrying the encoded error envelope; every other error, panics included, is
// reported as a SiLA undefined execution error with only its message. Dispatch
// failures use plain status codes: Unimplemented for unknown methods, InvalidArgument
// for undecodable requests.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"

	"sila-rpc/codec"
	"sila-rpc/logging"
	"sila-rpc/message"
	"sila-rpc/middleware"
	"sila-rpc/protocol"
	"sila-rpc/registry"
	"sila-rpc/silaerr"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	mu         sync.RWMutex
	serviceMap map[string]*service // "BinaryUpload" → *service
	listener   net.Listener
	conns      map[net.Conn]struct{}

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(businessHandler)))

	registry      registry.Registry
	advertiseAddr string // routable address published in the registry, not the listen address
	registryTTL   int64

	maxBody uint32
	log     *zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMaxBodyLen sets the frame body ceiling for requests and responses.
func WithMaxBodyLen(n uint32) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithRegistry publishes every service under advertiseAddr when serving starts and
// withdraws it on Shutdown. ttl is in seconds.
func WithRegistry(reg registry.Registry, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.advertiseAddr = advertiseAddr
		s.registryTTL = ttl
	}
}

// WithLogger replaces the "server" component logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a server with no services.
func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap:  make(map[string]*service),
		conns:       make(map[net.Conn]struct{}),
		maxBody:     protocol.DefaultMaxBodyLen,
		registryTTL: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Component("server")
	}
	return s
}

// Register exposes the exported RPC methods of rcvr under its struct type name.
func (svr *Server) Register(rcvr any) error {
	return svr.RegisterName("", rcvr)
}

// RegisterName is Register with an explicit service name.
func (svr *Server) RegisterName(name string, rcvr any) error {
	svc, err := NewService(rcvr, name)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.serviceMap[svc.name]; dup {
		return fmt.Errorf("rpc: service %s already registered", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Services lists the registered service names.
func (svr *Server) Services() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	names := make([]string, 0, len(svr.serviceMap))
	for name := range svr.serviceMap {
		names = append(names, name)
	}
	return names
}

// Use registers a middleware. Middlewares are applied in the order they are added.
// Call Use before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener serves connections accepted from l until Shutdown, which makes it
// return ErrServerClosed.
func (svr *Server) ServeListener(l net.Listener) error {
	svr.mu.Lock()
	svr.listener = l
	svr.mu.Unlock()
	if svr.shutdown.Load() {
		l.Close()
		return ErrServerClosed
	}

	// Built once: Chain(A, B, C)(h) runs A.before → B.before → C.before → h → C.after → B.after → A.after
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	if svr.registry != nil {
		for _, serviceName := range svr.Services() {
			err := svr.registry.Register(context.Background(), serviceName, registry.ServiceInstance{
				Addr:   svr.advertiseAddr,
				Weight: 1,
			}, svr.registryTTL)
			if err != nil {
				l.Close()
				return fmt.Errorf("server: registering %s: %w", serviceName, err)
			}
		}
	}
	svr.log.Info().Str("addr", l.Addr().String()).Strs("services", svr.Services()).Msg("serving")

	for {
		conn, err := l.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// handleConn reads frames sequentially and handles each request on its own goroutine.
// All responses on one connection share writeMu so frames never interleave.
func (svr *Server) handleConn(conn net.Conn) {
	svr.trackConn(conn, true)
	defer svr.trackConn(conn, false)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.DecodeLimit(conn, svr.maxBody)
		if err != nil {
			if !svr.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				svr.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("closing connection")
			}
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue // heartbeats only keep the connection alive
		}
		svr.wg.Add(1)
		go svr.handleRequest(ctx, header, body, conn, writeMu)
	}
}

func (svr *Server) trackConn(conn net.Conn, add bool) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

// handleRequest decodes one request, runs it through the handler chain and writes the
// response frame with the request's sequence number.
func (svr *Server) handleRequest(ctx context.Context, header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	var resp *message.RPCMessage
	req := &message.RPCMessage{}
	if err := c.Decode(body, req); err != nil {
		resp = message.Failure("", codes.InvalidArgument, "malformed request: "+err.Error())
	} else {
		resp = svr.handler(ctx, req)
		if resp == nil {
			resp = message.Failure(req.ServiceMethod, codes.Internal, "handler returned no response")
		}
	}

	result, err := c.Encode(resp)
	if err == nil && svr.maxBody > 0 && uint64(len(result)) > uint64(svr.maxBody) {
		svr.log.Error().Str("method", req.ServiceMethod).Int("bytes", len(result)).Msg("response exceeds frame ceiling")
		result, err = c.Encode(message.Failure(req.ServiceMethod, codes.ResourceExhausted,
			fmt.Sprintf("response of %d bytes exceeds the %d byte frame limit", len(result), svr.maxBody)))
	}
	if err != nil {
		svr.log.Error().Err(err).Str("method", req.ServiceMethod).Msg("failed to encode response")
		return
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.EncodeLimit(conn, &replyHeader, result, 0); err != nil {
		svr.log.Debug().Err(err).Str("method", req.ServiceMethod).Msg("failed to write response")
	}
}

// Shutdown stops the server:
//  1. withdraw all services from the registry so clients stop routing here
//  2. close the listener
//  3. wait up to timeout for in-flight requests
//  4. close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		for _, serviceName := range svr.Services() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := svr.registry.Deregister(ctx, serviceName, svr.advertiseAddr); err != nil {
				svr.log.Warn().Err(err).Str("service", serviceName).Msg("deregister failed")
			}
			cancel()
		}
	}

	// The flag goes first so Serve reports the Accept error as a clean close.
	svr.shutdown.Store(true)
	svr.mu.RLock()
	l := svr.listener
	svr.mu.RUnlock()
	if l != nil {
		l.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("server: timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}

// businessHandler dispatches "Service.Method" to the registered receiver.
// It is the innermost HandlerFunc of the middleware chain.
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, methodName, ok := strings.Cut(req.ServiceMethod, ".")
	if !ok || serviceName == "" || methodName == "" || strings.Contains(methodName, ".") {
		return message.Failure(req.ServiceMethod, codes.Unimplemented, "malformed service method "+req.ServiceMethod)
	}

	svr.mu.RLock()
	svc := svr.serviceMap[serviceName]
	svr.mu.RUnlock()
	if svc == nil {
		return message.Failure(req.ServiceMethod, codes.Unimplemented, "unknown service "+serviceName)
	}
	method := svc.method[methodName]
	if method == nil {
		return message.Failure(req.ServiceMethod, codes.Unimplemented, "unknown method "+req.ServiceMethod)
	}

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
			return message.Failure(req.ServiceMethod, codes.InvalidArgument, "malformed arguments: "+err.Error())
		}
	}

	if err := svc.Call(ctx, method, argv, replyv); err != nil {
		return svr.failure(req.ServiceMethod, err)
	}

	payload, err := json.Marshal(replyv.Interface())
	if err != nil {
		return svr.failure(req.ServiceMethod, fmt.Errorf("marshalling reply: %w", err))
	}
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Payload: payload}
}

// failure turns a handler error into an Aborted response carrying a SiLA error.
// Errors that are not SiLA errors are logged in full and sent as undefined execution
// errors with their message only.
func (svr *Server) failure(serviceMethod string, err error) *message.RPCMessage {
	se, isSila := silaerr.As(err)
	if !isSila {
		ev := svr.log.Error().Err(err).Str("method", serviceMethod)
		var p *panicError
		if errors.As(err, &p) {
			ev = ev.Bytes("stack", p.stack)
		}
		ev.Msg("handler failed")
		se = silaerr.Wrap(err)
	}
	detail, encErr := silaerr.Encode(se)
	if encErr != nil {
		svr.log.Error().Err(encErr).Str("method", serviceMethod).Msg("encoding SiLA error")
		return message.Failure(serviceMethod, codes.Internal, "failed to encode error")
	}
	return message.Failure(serviceMethod, codes.Aborted, detail)
}
