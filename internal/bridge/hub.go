package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/websocket/v2"

	"github.com/rbright/murmur/internal/protocol"
)

const clientQueue = 32

// Hub fans notifications out to every connected host.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{logger: logger, clients: make(map[*client]struct{})}
}

// Notify queues n for every connected host. Slow hosts lose notifications
// rather than block the session controller.
func (h *Hub) Notify(_ context.Context, n protocol.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.send(n)
	}
	return nil
}

// Len reports the connected host count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(conn *websocket.Conn) *client {
	c := &client{
		conn:   conn,
		logger: h.logger,
		queue:  make(chan []byte, clientQueue),
		done:   make(chan struct{}),
	}
	go c.writeLoop()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// client owns the single writer for one host connection.
type client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	queue  chan []byte

	once sync.Once
	done chan struct{}
}

func (c *client) send(v any) {
	payload, err := encode(v)
	if err != nil {
		c.logger.Warn("bridge encode failed", "error", err)
		return
	}

	select {
	case <-c.done:
	case c.queue <- payload:
	default:
		c.logger.Warn("bridge host queue full; dropping frame")
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.queue:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("bridge write failed", "error", err)
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}
