// Package realtime implements the Operator Surface's live feed: a
// WebSocket broadcast hub that relays every message passed to Broadcast to
// connected dashboards. No pipeline component calls Broadcast, so the feed
// carries no Trading Signal or Gateway RPC events on its own.
package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// FeedMessage is the envelope broadcast to every connected operator.
type FeedMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// clientBuffer bounds how many undelivered messages a slow client
// accumulates before the hub gives up on it and closes the connection.
const clientBuffer = 32

// FeedHub fans broadcast messages out to connected WebSocket clients. A
// single goroutine owns the client set; each client has its own buffered
// channel, and a full channel means that client is dropped rather than
// blocking the broadcast for everyone else.
type FeedHub struct {
	mu         sync.Mutex // guards clients for readers outside Run
	clients    map[*client]bool
	broadcast  chan FeedMessage
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan FeedMessage
}

// NewFeedHub creates a FeedHub. Call Run in its own goroutine before
// serving HandleWebSocket.
func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan FeedMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run is the hub's single-goroutine event loop. It is the only writer of
// the client map, so register/unregister/broadcast never race; mu is held
// around each change so other goroutines can read the map.
func (h *FeedHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			log.Info().Msg("feed client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				log.Info().Msg("feed client disconnected")
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					log.Warn().Msg("feed client too slow, dropping")
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast enqueues msgType/payload for delivery to every connected
// client. Never blocks the caller (the hub's own broadcast channel is
// generously buffered); a full buffer here means the hub loop itself is
// stalled, which should not happen under normal operation.
func (h *FeedHub) Broadcast(msgType string, payload interface{}) {
	msg := FeedMessage{Type: msgType, Timestamp: time.Now(), Payload: payload}
	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Str("type", msgType).Msg("feed hub broadcast buffer full, dropping message")
	}
}

// HandleWebSocket upgrades the request and starts the client's writer
// goroutine. The client is unregistered when the connection closes for
// any reason.
func (h *FeedHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("feed: failed to upgrade websocket")
		return
	}

	c := &client{conn: conn, send: make(chan FeedMessage, clientBuffer)}
	h.register <- c

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *FeedHub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Error().Err(err).Msg("feed: write failed, closing connection")
			return
		}
	}
}

func (h *FeedHub) readLoop(c *client) {
	defer func() {
		h.unregister <- c
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Msg("feed: websocket closed unexpectedly")
			}
			return
		}
	}
}
