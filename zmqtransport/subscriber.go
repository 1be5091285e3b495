package zmqtransport

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"
)

// Frame is a received [topic, payload] pair.
type Frame struct {
	Topic   string
	Payload []byte
}

// Subscriber connects a ZeroMQ SUB socket and decouples the library's
// blocking Recv from the caller's poll loop via a background reader
// goroutine feeding a buffered channel.
type Subscriber struct {
	sock   zmq4.Socket
	frames chan Frame
	cancel context.CancelFunc
}

// NewSubscriber connects to connectAddr and subscribes to topic ("" means
// all topics).
func NewSubscriber(ctx context.Context, connectAddr string, topic string) (*Subscriber, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(connectAddr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("zmqtransport: subscriber dial %s: %w", connectAddr, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("zmqtransport: subscribe %q: %w", topic, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	s := &Subscriber{
		sock:   sock,
		frames: make(chan Frame, 256),
		cancel: cancel,
	}
	go s.readLoop(readCtx)
	return s, nil
}

func (s *Subscriber) readLoop(ctx context.Context) {
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("subscriber receive error")
			continue
		}
		if len(msg.Frames) < 2 {
			continue
		}
		frame := Frame{Topic: string(msg.Frames[0]), Payload: msg.Frames[1]}
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		default:
			log.Warn().Str("topic", frame.Topic).Msg("subscriber backlog full, dropping tick")
		}
	}
}

// Receive returns the next frame, blocking until one arrives or ctx is
// cancelled/times out. Returns (Frame{}, false, ctx.Err()) on cancellation.
func (s *Subscriber) Receive(ctx context.Context) (Frame, bool, error) {
	select {
	case f := <-s.frames:
		return f, true, nil
	case <-ctx.Done():
		return Frame{}, false, ctx.Err()
	}
}

// TryReceive returns immediately: (frame, true) if one was queued, or
// (Frame{}, false) if none was available. This is the shape the
// Strategy Engine's poll loop uses (non-blocking receive with a short
// overall tick interval imposed by the caller, not by this socket).
func (s *Subscriber) TryReceive() (Frame, bool) {
	select {
	case f := <-s.frames:
		return f, true
	default:
		return Frame{}, false
	}
}

// Close stops the reader goroutine and releases the socket.
func (s *Subscriber) Close() error {
	s.cancel()
	return s.sock.Close()
}
