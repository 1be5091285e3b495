package zmqtransport

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"
)

// SignalPusher connects a ZeroMQ PUSH socket to the Order Executor's bound
// PULL socket. The Strategy Engine owns one of these. Push connects, pull
// binds: the consumer is the stable address in this pipeline.
type SignalPusher struct {
	sock zmq4.Socket
}

// NewSignalPusher dials connectAddr (the Order Executor's bind address).
func NewSignalPusher(ctx context.Context, connectAddr string) (*SignalPusher, error) {
	sock := zmq4.NewPush(ctx)
	if err := sock.Dial(connectAddr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("zmqtransport: signal pusher dial %s: %w", connectAddr, err)
	}
	return &SignalPusher{sock: sock}, nil
}

// Send pushes a single-frame payload. A failure here is logged by the
// caller (Strategy Engine) but never rolls back the condition's already
// committed state transition — signal delivery is at-most-once.
func (p *SignalPusher) Send(payload []byte) error {
	if err := p.sock.Send(zmq4.NewMsg(payload)); err != nil {
		return fmt.Errorf("zmqtransport: signal send: %w", err)
	}
	return nil
}

// Close releases the underlying socket.
func (p *SignalPusher) Close() error {
	return p.sock.Close()
}

// SignalPuller binds a ZeroMQ PULL socket. The Order Executor owns one of
// these; the Strategy Engine's SignalPusher instances dial into it.
type SignalPuller struct {
	sock     zmq4.Socket
	payloads chan []byte
	cancel   context.CancelFunc
}

// NewSignalPuller binds bindAddr (e.g. "tcp://*:5556").
func NewSignalPuller(ctx context.Context, bindAddr string) (*SignalPuller, error) {
	sock := zmq4.NewPull(ctx)
	if err := sock.Listen(bindAddr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("zmqtransport: signal puller bind %s: %w", bindAddr, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	p := &SignalPuller{
		sock:     sock,
		payloads: make(chan []byte, 256),
		cancel:   cancel,
	}
	go p.readLoop(readCtx)
	return p, nil
}

func (p *SignalPuller) readLoop(ctx context.Context) {
	for {
		msg, err := p.sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("signal puller receive error")
			continue
		}
		if len(msg.Frames) == 0 {
			continue
		}
		select {
		case p.payloads <- msg.Frames[0]:
		case <-ctx.Done():
			return
		}
	}
}

// TryReceive returns the next queued payload without blocking, matching the
// Order Executor's "poll the signal socket with a short timeout" loop shape
// (the timeout is the caller's poll interval, not a socket option here).
func (p *SignalPuller) TryReceive() ([]byte, bool) {
	select {
	case payload := <-p.payloads:
		return payload, true
	default:
		return nil, false
	}
}

// Close stops the reader goroutine and releases the socket.
func (p *SignalPuller) Close() error {
	p.cancel()
	return p.sock.Close()
}
