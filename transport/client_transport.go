// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport enables multiple concurrent RPC calls over a single TCP connection.
// Each request gets a unique sequence ID, and a background goroutine (recvLoop)
// continuously reads responses and routes them to the correct caller via pending channels.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc/codes"

	"sila-rpc/codec"
	"sila-rpc/logging"
	"sila-rpc/message"
	"sila-rpc/protocol"
)

// ErrClosed is returned by Send after the connection broke or Close was called.
var ErrClosed = errors.New("transport: connection closed")

// DefaultHeartbeat is the idle probe interval.
const DefaultHeartbeat = 30 * time.Second

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	maxBody uint32

	sending sync.Mutex // serializes frame writes; also guards seq and closed
	seq     uint32
	closed  error

	pending sync.Map // map[uint32]chan *message.RPCMessage
	done    chan struct{}
	once    sync.Once
}

// Option configures a ClientTransport.
type Option func(*options)

type options struct {
	maxBody   uint32
	heartbeat time.Duration
}

// WithMaxBodyLen sets the frame body ceiling for both directions.
func WithMaxBodyLen(n uint32) Option {
	return func(o *options) { o.maxBody = n }
}

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// NewClientTransport wraps conn and starts the receive loop and, unless disabled,
// the heartbeat loop.
func NewClientTransport(conn net.Conn, codecType codec.CodecType, opts ...Option) *ClientTransport {
	o := options{maxBody: protocol.DefaultMaxBodyLen, heartbeat: DefaultHeartbeat}
	for _, opt := range opts {
		opt(&o)
	}
	t := &ClientTransport{
		conn:    conn,
		codec:   codecType,
		maxBody: o.maxBody,
		done:    make(chan struct{}),
	}
	go t.recvLoop()
	if o.heartbeat > 0 {
		go t.heartbeatLoop(o.heartbeat)
	}
	return t
}

// Send frames req and returns the sequence number and a channel that receives exactly
// one response: the server's, or a local Unavailable failure if the connection breaks.
func (t *ClientTransport) Send(req *message.RPCMessage) (uint32, <-chan *message.RPCMessage, error) {
	body, err := codec.GetCodec(t.codec).Encode(req)
	if err != nil {
		return 0, nil, fmt.Errorf("transport: encoding request: %w", err)
	}

	t.sending.Lock()
	defer t.sending.Unlock()
	if t.closed != nil {
		return 0, nil, t.closed
	}

	t.seq++
	seq := t.seq
	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}

	// Register before writing so recvLoop cannot miss a fast response.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)

	if err := protocol.EncodeLimit(t.conn, &header, body, t.maxBody); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}
	return seq, respChan, nil
}

// Call sends req and waits for its response or for ctx. Failures are returned as
// messages so Call fits the middleware.HandlerFunc shape.
func (t *ClientTransport) Call(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	seq, ch, err := t.Send(req)
	if err != nil {
		code := codes.Unavailable
		if errors.Is(err, protocol.ErrBodyTooLarge) {
			code = codes.ResourceExhausted
		}
		return message.Failure(req.ServiceMethod, code, err.Error())
	}
	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		t.pending.Delete(seq)
		code := codes.Canceled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = codes.DeadlineExceeded
		}
		return message.Failure(req.ServiceMethod, code, ctx.Err().Error())
	}
}

// recvLoop is the single reader of the connection; frames must be parsed in order.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.DecodeLimit(t.conn, t.maxBody)
		if err != nil {
			t.fail(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		channel, ok := t.pending.LoadAndDelete(header.Seq)
		if !ok {
			continue // caller gave up
		}
		resp := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, resp); err != nil {
			resp = message.Failure("", codes.Internal, "transport: decoding response: "+err.Error())
		}
		channel.(chan *message.RPCMessage) <- resp
	}
}

// fail marks the transport closed and answers every pending caller.
func (t *ClientTransport) fail(err error) {
	t.sending.Lock()
	if t.closed == nil {
		if errors.Is(err, ErrClosed) {
			t.closed = err
		} else {
			t.closed = fmt.Errorf("%w: %v", ErrClosed, err)
		}
	}
	t.sending.Unlock()
	t.once.Do(func() { close(t.done) })

	logging.Component("transport").Debug().Err(err).Str("remote", t.conn.RemoteAddr().String()).Msg("connection lost")
	t.pending.Range(func(key, _ any) bool {
		if value, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan *message.RPCMessage) <- message.Failure("", codes.Unavailable, err.Error())
		}
		return true
	})
}

// Closed reports whether the connection can no longer carry calls.
func (t *ClientTransport) Closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Close shuts the connection; pending calls fail with Unavailable.
func (t *ClientTransport) Close() error {
	err := t.conn.Close()
	t.fail(ErrClosed)
	return err
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop writes an empty heartbeat frame every interval until the transport closes.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return
		}
	}
}
