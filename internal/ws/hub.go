// Package ws streams indexed events to browser clients. A single hub owns
// the client set; the bus channels feed it and every frame goes to every
// client. Filtering by message type happens client-side.
package ws

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/metrics"
)

// Envelope is the frame format sent to clients.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Hub fans frames out to every connected client. A client whose send buffer
// is full is dropped rather than allowed to stall the loop.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	clients    map[*Client]struct{}
	count      atomic.Int64
	done       chan struct{}

	met *metrics.Metrics
	log *zap.Logger
}

func NewHub(met *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan []byte, 1024),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
		met:        met,
		log:        log.Named("ws"),
	}
}

// Run owns the client set. It returns once ctx is cancelled and every
// client connection has been closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			if h.met != nil {
				h.met.WSClients.Inc()
			}
			h.log.Debug("client connected",
				zap.String("id", c.id), zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.log.Debug("client disconnected",
					zap.String("id", c.id), zap.Int("clients", len(h.clients)))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.remove(c)
					h.log.Warn("dropping slow client", zap.String("id", c.id))
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	h.count.Store(int64(len(h.clients)))
	close(c.send)
	if h.met != nil {
		h.met.WSClients.Dec()
	}
}

// Broadcast queues a raw frame. Frames are dropped when the hub is saturated;
// the stream is a live feed, not a durable queue.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.log.Warn("broadcast buffer full, dropping frame")
	}
}

// BroadcastEvent wraps a JSON payload in the client envelope.
func (h *Hub) BroadcastEvent(typ string, payload []byte) {
	frame, err := json.Marshal(Envelope{
		Type:      typ,
		Data:      json.RawMessage(payload),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.log.Warn("envelope marshal failed", zap.String("type", typ), zap.Error(err))
		return
	}
	h.Broadcast(frame)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.conn.Close()
	}
}

func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
