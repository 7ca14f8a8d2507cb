// Package client calls services served by sila-rpc servers.
//
// A call resolves "Service.Method" to an instance through the registry and the load
// balancer, sends it over a pooled multiplexed transport and decodes the reply.
// Failed calls come back as gRPC status errors; those carrying a SiLA error are
// upgraded to the typed *silaerr error, resolved through the configured Catalog.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sila-rpc/codec"
	"sila-rpc/loadbalance"
	"sila-rpc/logging"
	"sila-rpc/message"
	"sila-rpc/middleware"
	"sila-rpc/protocol"
	"sila-rpc/registry"
	"sila-rpc/silaerr"
	"sila-rpc/transport"
)

type Client struct {
	registry  registry.Registry
	addrs     []registry.ServiceInstance // fixed targets; registry unused when set
	balancer  loadbalance.Balancer
	codecType codec.CodecType
	poolSize  int
	maxBody   uint32
	dial      transport.Dialer
	catalog   *silaerr.Catalog
	mws       []middleware.Middleware

	pool     *transport.Pool
	detector silaerr.Detector
	handler  middleware.HandlerFunc
	log      *zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRegistry discovers instances through reg.
func WithRegistry(reg registry.Registry) Option {
	return func(c *Client) { c.registry = reg }
}

// WithAddrs sends every call to one of addrs, bypassing discovery.
func WithAddrs(addrs ...string) Option {
	return func(c *Client) {
		c.addrs = c.addrs[:0]
		for _, a := range addrs {
			c.addrs = append(c.addrs, registry.ServiceInstance{Addr: a, Weight: 1})
		}
	}
}

// WithBalancer picks among discovered instances. The default is round robin.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *Client) { c.balancer = b }
}

// WithCodec selects the frame body codec. The default is JSON.
func WithCodec(ct codec.CodecType) Option {
	return func(c *Client) { c.codecType = ct }
}

// WithPoolSize sets the number of connections per address.
func WithPoolSize(n int) Option {
	return func(c *Client) { c.poolSize = n }
}

// WithMaxBodyLen sets the frame body ceiling.
func WithMaxBodyLen(n uint32) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithCatalog resolves defined execution error identifiers to concrete errors.
// Catalogs from several options are merged.
func WithCatalog(cat *silaerr.Catalog) Option {
	return func(c *Client) {
		if c.catalog == nil {
			c.catalog = silaerr.NewCatalog()
		}
		c.catalog.Merge(cat)
	}
}

// WithMiddleware wraps every call, first argument outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.mws = append(c.mws, mws...) }
}

// NewClient builds a client. Either WithRegistry or WithAddrs must be given.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		codecType: codec.CodecTypeJSON,
		poolSize:  1,
		maxBody:   protocol.DefaultMaxBodyLen,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil && len(c.addrs) == 0 {
		return nil, fmt.Errorf("client: no registry and no addresses")
	}
	if c.balancer == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	c.pool = transport.NewPool(c.poolSize, c.codecType, c.dial, transport.WithMaxBodyLen(c.maxBody))
	c.detector = silaerr.Detector{Catalog: c.catalog}
	c.handler = middleware.Chain(c.mws...)(c.invoke)
	c.log = logging.Component("client")
	return c, nil
}

// Dial is NewClient with a single fixed address.
func Dial(addr string, opts ...Option) (*Client, error) {
	return NewClient(append(opts, WithAddrs(addr))...)
}

// Call invokes serviceMethod ("Service.Method") with args and decodes the reply into
// reply, which must be a pointer. Errors are SiLA errors from the server, status
// errors for transport and dispatch failures, or local encoding errors.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	if _, _, ok := strings.Cut(serviceMethod, "."); !ok {
		return fmt.Errorf("client: invalid service method %q", serviceMethod)
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("client: encoding arguments: %w", err)
	}

	resp := c.handler(ctx, &message.RPCMessage{ServiceMethod: serviceMethod, Payload: payload})
	if resp.Failed() {
		code := resp.Status
		if code == codes.OK {
			code = codes.Unknown
		}
		return c.detector.Upgrade(status.Error(code, resp.Error))
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, reply); err != nil {
		return fmt.Errorf("client: decoding reply of %s: %w", serviceMethod, err)
	}
	return nil
}

// invoke is the innermost handler: pick an instance, send, wait. It runs again for
// every retry, so a retried call may land on another instance.
func (c *Client) invoke(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, _, _ := strings.Cut(req.ServiceMethod, ".")

	instances := c.addrs
	if len(instances) == 0 {
		var err error
		instances, err = c.registry.Discover(ctx, serviceName)
		if err != nil {
			return message.Failure(req.ServiceMethod, codes.Unavailable, "discovering "+serviceName+": "+err.Error())
		}
	}
	instance, err := c.balancer.Pick(ctx, instances)
	if err != nil {
		return message.Failure(req.ServiceMethod, codes.Unavailable, serviceName+": "+err.Error())
	}

	t, err := c.pool.Get(ctx, instance.Addr)
	if err != nil {
		return message.Failure(req.ServiceMethod, codes.Unavailable, err.Error())
	}
	start := time.Now()
	resp := t.Call(ctx, req)
	c.log.Trace().
		Str("method", req.ServiceMethod).
		Str("addr", instance.Addr).
		Dur("duration", time.Since(start)).
		Str("code", resp.Status.String()).
		Msg("call")
	return resp
}

// Close releases all connections.
func (c *Client) Close() error {
	return c.pool.Close()
}
