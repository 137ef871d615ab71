package push

import (
	"context"

	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
)

// State is the connection state of the shared push channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives decoded push events. Handlers for one event type are
// invoked in subscription order.
type Handler func(domain.Event)

// Conn is the single shared push channel connection. Exactly one room
// may be joined at a time; joining a new room implicitly leaves the
// previous one. The connection's lifetime is process-wide and
// independent of any single view.
type Conn interface {
	// Connect establishes the connection and emits a ConnectEvent on
	// success. Idempotent: a no-op while connecting or connected.
	Connect(ctx context.Context) error

	// JoinRoom enters roomID, leaving any currently joined room first.
	// While connecting, the request is deferred and replayed once the
	// connect event has fired.
	JoinRoom(roomID int64) error

	// LeaveRoom exits roomID. A no-op unless roomID is currently joined.
	LeaveRoom(roomID int64)

	// Send writes an event payload. When not connected the payload is
	// silently dropped, not queued; ErrTransportUnavailable is returned
	// for observability and callers must not assume delivery.
	Send(payload interface{}) error

	// Subscribe registers a handler for one event type and returns a
	// subscription id for Unsubscribe.
	Subscribe(t domain.EventType, h Handler) int

	// Unsubscribe removes a previously registered handler.
	Unsubscribe(t domain.EventType, id int)

	// State returns the current connection state.
	State() State

	// JoinedRoom returns the currently joined room, if any.
	JoinedRoom() (int64, bool)

	// Close tears the connection down for process shutdown.
	Close()
}
