package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventConn is one websocket subscriber with a buffered outbound queue.
// A subscriber that cannot keep up gets dropped rather than stalling the
// transport's callback path.
type EventConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *EventConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *EventConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// EventHub fans per-peer state events out to every websocket subscriber.
type EventHub struct {
	pingEvery time.Duration

	mu    sync.RWMutex
	conns map[*EventConn]struct{}
}

func NewEventHub(pingEvery time.Duration) *EventHub {
	if pingEvery <= 0 {
		pingEvery = 54 * time.Second
	}
	return &EventHub{
		pingEvery: pingEvery,
		conns:     make(map[*EventConn]struct{}),
	}
}

// Publish delivers one state event to all subscribers. Safe from any
// goroutine; slow subscribers are disconnected.
func (h *EventHub) Publish(ev core.StateEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("marshal event")
		return
	}

	h.mu.RLock()
	conns := make([]*EventConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "httpapi").Msg("dropping slow event subscriber")
			h.remove(c)
			c.Close()
		}
	}
}

func (h *EventHub) remove(c *EventConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *EventHub) HandleEvents(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("ws upgrade")
		return
	}

	conn := &EventConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	log.Info().Str("module", "httpapi").Str("remote", ws.RemoteAddr().String()).Msg("event subscriber connected")

	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, conn)
	go h.readPump(cancel, conn)
}

func (h *EventHub) writePump(ctx context.Context, c *EventConn) {
	ticker := time.NewTicker(h.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.remove(c)
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Debug().Err(err).Str("module", "httpapi").Msg("ping failed")
				h.remove(c)
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				h.remove(c)
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "httpapi").Msg("event write failed")
				h.remove(c)
				c.Close()
				return
			}
		}
	}
}

// readPump only watches for the peer going away; the event stream is
// one-directional.
func (h *EventHub) readPump(cancel context.CancelFunc, c *EventConn) {
	defer cancel()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
