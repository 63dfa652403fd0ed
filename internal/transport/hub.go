// Package transport owns the websocket surface: accepting client
// connections, feeding their messages to the dispatcher, and delivering
// frames back over the live sockets.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fieldsafe/safegate/internal/metrics"
	"github.com/fieldsafe/safegate/internal/notify"
)

const writeTimeout = 10 * time.Second

// Hub tracks live connections by id. It implements notify.Sender, so
// frames addressed to a connection that has gone away surface as
// notify.ErrGone and get pruned upstream instead of erroring the
// request.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

func NewHub() *Hub {
	return &Hub{conns: map[string]*websocket.Conn{}}
}

func (h *Hub) Add(id string, c *websocket.Conn) {
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
	metrics.ConnectionOpened()
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	_, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if ok {
		metrics.ConnectionClosed()
	}
}

// Len reports how many connections are live.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send writes one text message to the named connection.
func (h *Hub) Send(ctx context.Context, id string, data []byte) error {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return notify.ErrGone
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write to %s: %w", id, err)
	}
	return nil
}
