package zmqtransport

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// RPCServer wraps a ZeroMQ REP socket. Its Recv blocks; a caller that must
// honor a stop signal while no request is in flight runs Recv on its own
// goroutine and selects on the stop signal alongside it.
type RPCServer struct {
	sock zmq4.Socket
}

// NewRPCServer binds bindAddr (e.g. "tcp://*:5557").
func NewRPCServer(ctx context.Context, bindAddr string) (*RPCServer, error) {
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(bindAddr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("zmqtransport: rpc server bind %s: %w", bindAddr, err)
	}
	return &RPCServer{sock: sock}, nil
}

// Recv blocks for the next request frame. Callers run this on a dedicated
// goroutine and race it against a stop channel rather than relying on a
// socket-level receive timeout, since go-zeromq's REP socket has no
// non-blocking poll primitive equivalent to pyzmq's NOBLOCK flag.
func (s *RPCServer) Recv() ([]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	if len(msg.Frames) == 0 {
		return nil, fmt.Errorf("zmqtransport: empty rpc request")
	}
	return msg.Frames[0], nil
}

// Send replies to the most recently received request. REP sockets require
// exactly one Send per Recv before the next Recv is valid.
func (s *RPCServer) Send(payload []byte) error {
	return s.sock.Send(zmq4.NewMsg(payload))
}

// Close releases the underlying socket.
func (s *RPCServer) Close() error {
	return s.sock.Close()
}

// RPCClient wraps a ZeroMQ REQ socket for the Broker Gateway Client. A fresh
// socket is created on each (re)connect so that a timed-out request can be
// abandoned cleanly — REQ sockets do not allow a second Send after a Send
// without a matching Recv.
type RPCClient struct {
	ctx  context.Context
	sock zmq4.Socket
	addr string
}

// NewRPCClient records addr (e.g. "tcp://localhost:5557"); the socket is
// dialed on the first Call.
func NewRPCClient(ctx context.Context, addr string) (*RPCClient, error) {
	return &RPCClient{ctx: ctx, addr: addr}, nil
}

func (c *RPCClient) connect() error {
	sock := zmq4.NewReq(c.ctx)
	if err := sock.Dial(c.addr); err != nil {
		_ = sock.Close()
		return fmt.Errorf("zmqtransport: rpc client dial %s: %w", c.addr, err)
	}
	c.sock = sock
	return nil
}

// ErrRPCTimeout is returned by Call when the reply does not arrive within
// the caller's timeout. The caller must Reset the client afterward: a REQ
// socket left mid-exchange cannot accept a new Send.
var ErrRPCTimeout = fmt.Errorf("zmqtransport: rpc call timed out")

// Call sends request and returns the single-frame reply, or ErrRPCTimeout
// if timeout elapses first. go-zeromq has no libzmq-style RCVTIMEO socket
// option, so the deadline is enforced by racing the blocking Recv against a
// timer on a dedicated goroutine; on timeout the caller must Reset().
func (c *RPCClient) Call(request []byte, timeout context.Context) ([]byte, error) {
	if c.sock == nil {
		if err := c.connect(); err != nil {
			return nil, err
		}
	}
	if err := c.sock.Send(zmq4.NewMsg(request)); err != nil {
		return nil, fmt.Errorf("zmqtransport: rpc send: %w", err)
	}

	type result struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := c.sock.Recv()
		done <- result{msg: msg, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("zmqtransport: rpc recv: %w", r.err)
		}
		if len(r.msg.Frames) == 0 {
			return nil, fmt.Errorf("zmqtransport: empty rpc response")
		}
		return r.msg.Frames[0], nil
	case <-timeout.Done():
		return nil, ErrRPCTimeout
	}
}

// Reset closes and reopens the underlying socket. Called after a timeout or
// transport error, since a REQ socket left in a bad send/recv state cannot
// simply retry.
func (c *RPCClient) Reset() error {
	if c.sock != nil {
		_ = c.sock.Close()
	}
	return c.connect()
}

// Close releases the underlying socket.
func (c *RPCClient) Close() error {
	if c.sock == nil {
		return nil
	}
	return c.sock.Close()
}
