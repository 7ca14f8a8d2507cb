package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sila-rpc/codec"
)

// Dialer opens a connection to addr.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Pool keeps up to size multiplexed transports per address and hands them out round
// robin. Transports are shared, not borrowed: any number of calls may use one at once.
// Broken transports are replaced on the next Get.
type Pool struct {
	size  int
	codec codec.CodecType
	dial  Dialer
	opts  []Option

	mu    sync.Mutex
	addrs map[string]*slots
}

type slots struct {
	next       atomic.Uint64
	transports []*ClientTransport
}

// NewPool creates an empty pool. Transports are dialled lazily.
func NewPool(size int, codecType codec.CodecType, dial Dialer, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	if dial == nil {
		dial = DialTCP(5 * time.Second)
	}
	return &Pool{
		size:  size,
		codec: codecType,
		dial:  dial,
		opts:  opts,
		addrs: make(map[string]*slots),
	}
}

// DialTCP dials with the given timeout, shortened by any ctx deadline.
func DialTCP(timeout time.Duration) Dialer {
	d := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Get returns a live transport to addr, dialling one if its slot is empty or broken.
func (p *Pool) Get(ctx context.Context, addr string) (*ClientTransport, error) {
	p.mu.Lock()
	s, ok := p.addrs[addr]
	if !ok {
		s = &slots{transports: make([]*ClientTransport, p.size)}
		p.addrs[addr] = s
	}
	p.mu.Unlock()

	i := int(s.next.Add(1)-1) % p.size

	p.mu.Lock()
	t := s.transports[i]
	p.mu.Unlock()
	if t != nil && !t.Closed() {
		return t, nil
	}

	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dialling %s: %w", addr, err)
	}
	fresh := NewClientTransport(conn, p.codec, p.opts...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if cur := s.transports[i]; cur != nil && cur != t && !cur.Closed() {
		// another caller refilled the slot first
		fresh.Close()
		return cur, nil
	}
	s.transports[i] = fresh
	return fresh, nil
}

// Close closes every transport in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, s := range p.addrs {
		for _, t := range s.transports {
			if t != nil {
				t.Close()
			}
		}
		delete(p.addrs, addr)
	}
	return nil
}
