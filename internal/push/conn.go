package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
	"github.com/sparcs-kaist/ara-chat-sync/pkg/log"
)

// ErrTransportUnavailable is returned when an operation requires a live
// connection. Payloads are dropped, never queued.
var ErrTransportUnavailable = errors.New("push transport unavailable")

// Config holds push channel configuration.
type Config struct {
	Endpoint       string        `mapstructure:"endpoint"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

func (c *Config) applyDefaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait == 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait == 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 4096
	}
}

type subscription struct {
	id int
	h  Handler
}

type wsConn struct {
	cfg    Config
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	joined   int64  // 0 when no room is joined
	deferred *int64 // join requested while connecting
	subs     map[domain.EventType][]subscription
	nextSub  int
}

// NewConn creates the shared push connection manager. It does not dial
// until Connect is called.
func NewConn(cfg Config, logger zerolog.Logger) Conn {
	cfg.applyDefaults()
	return &wsConn{
		cfg:    cfg,
		log:    logger,
		dialer: websocket.DefaultDialer,
		subs:   make(map[domain.EventType][]subscription),
	}
}

func (c *wsConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ws, _, err := c.dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.deferred = nil
		c.mu.Unlock()
		return fmt.Errorf("connect push channel: %w", err)
	}

	c.mu.Lock()
	c.state = StateConnected
	c.ws = ws
	c.send = make(chan []byte, 256)
	c.done = make(chan struct{})
	deferred := c.deferred
	c.deferred = nil
	go c.readPump(ws, c.done)
	go c.writePump(ws, c.send, c.done)
	c.mu.Unlock()

	c.log.Info().Str(log.FieldPath, c.cfg.Endpoint).Msg("push channel connected")
	c.dispatch(domain.ConnectEvent{})

	// Replay a join that was requested while connecting. Dispatch runs
	// first so re-joins of a previously active room win the ordering.
	if deferred != nil {
		return c.JoinRoom(*deferred)
	}
	return nil
}

func (c *wsConn) JoinRoom(roomID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnecting:
		c.deferred = &roomID
		return nil
	case StateDisconnected:
		return ErrTransportUnavailable
	}

	if c.joined == roomID {
		return nil
	}
	if c.joined != 0 {
		c.enqueue(domain.NewLeaveNotice(c.joined))
	}
	c.enqueue(domain.NewJoinNotice(roomID))
	c.joined = roomID
	c.log.Debug().Int64(log.FieldRoomID, roomID).Msg("joined room")
	return nil
}

func (c *wsConn) LeaveRoom(roomID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.joined != roomID {
		return
	}
	c.enqueue(domain.NewLeaveNotice(roomID))
	c.joined = 0
	c.log.Debug().Int64(log.FieldRoomID, roomID).Msg("left room")
}

func (c *wsConn) Send(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		c.log.Debug().Msg("send dropped: not connected")
		return ErrTransportUnavailable
	}
	c.enqueue(payload)
	return nil
}

// enqueue marshals and queues one outbound frame. Callers hold c.mu so
// queued frames preserve call order (leave before join in particular).
func (c *wsConn) enqueue(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal outbound frame")
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn().Msg("send buffer full, dropping frame")
	}
}

func (c *wsConn) Subscribe(t domain.EventType, h Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSub++
	c.subs[t] = append(c.subs[t], subscription{id: c.nextSub, h: h})
	return c.nextSub
}

func (c *wsConn) Unsubscribe(t domain.EventType, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handlers := c.subs[t]
	for i, sub := range handlers {
		if sub.id == id {
			c.subs[t] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

func (c *wsConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *wsConn) JoinedRoom() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined, c.joined != 0
}

func (c *wsConn) Close() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// dispatch delivers one event to the handlers subscribed to its type,
// in subscription order. Handlers run outside the lock.
func (c *wsConn) dispatch(ev domain.Event) {
	c.log.Debug().Str(log.FieldEventType, string(ev.Type())).Msg("dispatching push event")

	c.mu.Lock()
	handlers := append([]subscription(nil), c.subs[ev.Type()]...)
	c.mu.Unlock()

	for _, sub := range handlers {
		sub.h(ev)
	}
}

func (c *wsConn) readPump(ws *websocket.Conn, done chan struct{}) {
	defer c.teardown(ws, done)

	ws.SetReadLimit(c.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("push channel read error")
			}
			return
		}

		ev, err := domain.DecodeEvent(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable push frame")
			continue
		}
		c.dispatch(ev)
	}
}

func (c *wsConn) writePump(ws *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case data := <-send:
			ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// teardown handles a transport-level disconnect: the state drops back
// to disconnected and the joined room is cleared locally only; the
// server is expected to time out the stale join. The previously active
// room is re-joined by the session layer on the next connect.
func (c *wsConn) teardown(ws *websocket.Conn, done chan struct{}) {
	c.mu.Lock()
	if c.ws == ws {
		c.state = StateDisconnected
		c.joined = 0
		c.ws = nil
		close(done)
		c.log.Info().Msg("push channel disconnected")
	}
	c.mu.Unlock()
	ws.Close()
}
