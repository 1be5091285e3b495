// Package zmqtransport wraps the ZeroMQ socket types used by the trading
// pipeline: a tick Publisher/Subscriber pair (pub/sub fan-out) and a signal
// Pusher/Puller pair (push/pull dispatch). It mirrors the socket lifecycle
// and framing used by the system's original ZeroMQ messaging layer, adapted
// to Go channels and contexts in place of Python threads and polling.
package zmqtransport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"
)

// TickTopic is the pub/sub topic frame under which Tick payloads travel.
const TickTopic = "TICK"

// slowJoinerPause is how long the Publisher waits after binding before its
// first emission, giving late-joining subscribers time to complete the
// pub/sub handshake. A mitigation, not a guarantee: early ticks can still be
// dropped for subscribers that connect after this window.
const slowJoinerPause = 500 * time.Millisecond

// Publisher binds a ZeroMQ PUB socket and fans out two-frame [topic, payload]
// messages. Subscribers are never tracked; publishing with none attached is
// a no-op at the transport layer.
type Publisher struct {
	sock zmq4.Socket
}

// NewPublisher binds a PUB socket at bindAddr (e.g. "tcp://*:5555") and
// pauses briefly to mitigate the slow-joiner problem before returning.
func NewPublisher(ctx context.Context, bindAddr string) (*Publisher, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(bindAddr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("zmqtransport: publisher bind %s: %w", bindAddr, err)
	}
	log.Info().Str("addr", bindAddr).Msg("tick publisher bound")
	time.Sleep(slowJoinerPause)
	return &Publisher{sock: sock}, nil
}

// Publish sends payload under topic as a two-frame message. Send failures
// are returned to the caller; the spec treats publish as best-effort (the
// underlying socket drops on a full high-water-mark buffer rather than
// blocking the caller).
func (p *Publisher) Publish(topic string, payload []byte) error {
	msg := zmq4.NewMsgFrom([]byte(topic), payload)
	if err := p.sock.Send(msg); err != nil {
		return fmt.Errorf("zmqtransport: publish %s: %w", topic, err)
	}
	return nil
}

// Close releases the underlying socket.
func (p *Publisher) Close() error {
	return p.sock.Close()
}
