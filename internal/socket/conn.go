// Package socket carries the realtime protocol over WebSocket. Each frame is
// a JSON text message {"event": name, "data": payload}.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/auth"
	"github.com/cloudfly/chat-relay/internal/bus"
	"github.com/cloudfly/chat-relay/internal/model"
	"github.com/cloudfly/chat-relay/internal/service"
	"github.com/cloudfly/chat-relay/pkg/logger"
	"github.com/cloudfly/chat-relay/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 64 << 10
	sendQueueSize  = 256
)

// ErrConnClosed is returned when joining a room on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// Conn is one authenticated client connection. It implements service.Session.
type Conn struct {
	id       string
	identity auth.Identity
	token    string
	ws       *websocket.Conn
	bus      bus.Bus
	logger   *logger.Logger

	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	subs      map[string]bus.Subscription
	closed    bool
	closeCode int
	closeText string
	connectAt time.Time
}

var _ service.Session = (*Conn)(nil)

func newConn(id string, identity auth.Identity, token string, ws *websocket.Conn, b bus.Bus, log *logger.Logger) *Conn {
	return &Conn{
		id:        id,
		identity:  identity,
		token:     token,
		ws:        ws,
		bus:       b,
		logger:    log.WithConnection(id, identity.TenantID, identity.UserID),
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		subs:      make(map[string]bus.Subscription),
		connectAt: time.Now(),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Identity returns the identity attached at connect time.
func (c *Conn) Identity() auth.Identity { return c.identity }

// Token returns the bearer token presented at connect time.
func (c *Conn) Token() string { return c.token }

// Emit queues an event for this connection.
func (c *Conn) Emit(event string, payload any) {
	data, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			c.logger.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
			return
		}
	}
	c.enqueue(event, data)
}

// Join subscribes the connection to room. Joining a room twice is a no-op.
func (c *Conn) Join(room string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if _, ok := c.subs[room]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sub, err := c.bus.Subscribe(room, c.deliver)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = sub.Unsubscribe()
		return ErrConnClosed
	}
	c.subs[room] = sub
	return nil
}

// Leave unsubscribes the connection from room.
func (c *Conn) Leave(room string) error {
	c.mu.Lock()
	sub, ok := c.subs[room]
	delete(c.subs, room)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// Rooms returns the rooms the connection is currently a member of.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.subs))
	for r := range c.subs {
		rooms = append(rooms, r)
	}
	return rooms
}

// deliver forwards a room event unless this connection published it.
func (c *Conn) deliver(ev bus.Event) {
	if ev.Origin != "" && ev.Origin == c.id {
		return
	}
	c.enqueue(ev.Name, ev.Data)
}

func (c *Conn) enqueue(event string, data json.RawMessage) {
	msg, err := json.Marshal(model.Frame{Event: event, Data: data})
	if err != nil {
		c.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		metrics.SocketSlowConsumers.Inc()
		c.logger.Warn("outbound queue full, closing slow connection")
		c.closeLocked(websocket.CloseTryAgainLater, "slow consumer")
	}
}

// Close asks the write pump to send a close frame and end the connection.
func (c *Conn) Close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, text)
}

func (c *Conn) closeLocked(code int, text string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.done)
}

// releaseSubscriptions drops every room membership.
func (c *Conn) releaseSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]bus.Subscription)
	c.mu.Unlock()

	for room, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("failed to unsubscribe", zap.String("room", room), zap.Error(err))
		}
	}
}

// readPump reads frames until the connection fails or closes and hands each
// one to dispatch in order.
func (c *Conn) readPump(ctx context.Context, dispatch func(context.Context, model.Frame)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("connection read error", zap.Error(err))
			}
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			c.Emit(model.EventError, model.ErrorEvent{Message: service.MsgInvalidFrame})
			continue
		}
		dispatch(ctx, frame)
	}
}

// writePump owns all writes to the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close(websocket.CloseAbnormalClosure, "")
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.mu.Lock()
			code, text := c.closeCode, c.closeText
			c.mu.Unlock()
			msg := websocket.FormatCloseMessage(code, text)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
