package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"itinera/api/internal/util"
)

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	socketID string
	identity Identity
	limiter  *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// templates is guarded by hub.mu.
	templates map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn, id Identity) *client {
	return &client{
		hub:       h,
		conn:      conn,
		socketID:  util.NewID(),
		identity:  id,
		limiter:   rate.NewLimiter(rate.Limit(h.cfg.RatePerSec), h.cfg.RateBurst),
		send:      make(chan []byte, h.cfg.SendQueue),
		done:      make(chan struct{}),
		templates: make(map[string]struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue never blocks: a session whose queue is full is dropped.
func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.hub.metrics.SessionDropped()
		c.hub.logger.Warn().Str("socket_id", c.socketID).Str("user_id", c.identity.UserID).Msg("send queue full, dropping session")
		c.close()
		return false
	}
}

func (c *client) enqueueEnvelope(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.hub.logger.Error().Err(err).Str("type", env.Type).Msg("encode envelope")
		return
	}
	if c.enqueue(payload) {
		c.hub.metrics.Message("out", env.Type)
	}
}

func (c *client) sendEvent(eventType string, data any) {
	env, err := NewEnvelope(eventType, data)
	if err != nil {
		c.hub.logger.Error().Err(err).Str("type", eventType).Msg("encode event")
		return
	}
	c.enqueueEnvelope(env)
}

func (c *client) sendError(command, code, message string) {
	c.sendEvent(EvtError, ErrorEvent{Code: code, Message: message, Command: command})
}

func (c *client) editingEvent(templateID, cardID string) EditingEvent {
	return EditingEvent{
		TemplateID:  templateID,
		CardID:      cardID,
		UserID:      c.identity.UserID,
		SocketID:    c.socketID,
		DisplayName: c.identity.DisplayName,
	}
}

func (c *client) readPump() {
	defer c.hub.disconnect(c)

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logger.Debug().Err(err).Str("socket_id", c.socketID).Msg("read failed")
			}
			return
		}
		if !c.limiter.Allow() {
			c.sendError("", "RATE_LIMITED", "too many messages")
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.sendError("", "VALIDATION_ERROR", "message must be a {type, data} object")
			continue
		}
		c.hub.metrics.Message("in", env.Type)
		c.hub.dispatch(c, env)
	}
}

func (c *client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteWait))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				c.close()
				return
			}
		}
	}
}
