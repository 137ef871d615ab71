package domain

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates push channel events.
type EventType string

// Inbound event types.
const (
	EventConnect    EventType = "connect"
	EventRoomUpdate EventType = "room_update"
	EventUserJoin   EventType = "user_join"
)

// Outbound event types, sent by this client to enter or exit a room.
const (
	EventJoin  EventType = "join"
	EventLeave EventType = "leave"
)

// Event is the decoded form of a push channel frame. Raw wire payloads
// are decoded at the connection boundary into one concrete variant per
// event name; components never see the untyped wire shape.
type Event interface {
	Type() EventType
}

// wireEvent is the JSON envelope of every push channel frame. The room
// identifier may appear in any of room_id, chat_room or payload.room_id,
// checked in that order.
type wireEvent struct {
	Type     string       `json:"type"`
	RoomID   *int64       `json:"room_id,omitempty"`
	ChatRoom *int64       `json:"chat_room,omitempty"`
	Payload  *wirePayload `json:"payload,omitempty"`
}

type wirePayload struct {
	RoomID  *int64   `json:"room_id,omitempty"`
	UserID  *int64   `json:"user_id,omitempty"`
	Message *Message `json:"message,omitempty"`
	Members []Member `json:"members,omitempty"`
}

func (e *wireEvent) roomID() int64 {
	switch {
	case e.RoomID != nil:
		return *e.RoomID
	case e.ChatRoom != nil:
		return *e.ChatRoom
	case e.Payload != nil && e.Payload.RoomID != nil:
		return *e.Payload.RoomID
	}
	return 0
}

// ConnectEvent signals that the push connection has been established.
// It is emitted locally by the connection manager, never by the server.
type ConnectEvent struct{}

func (ConnectEvent) Type() EventType { return EventConnect }

// RoomUpdateEvent signals new activity in a room. Message is present
// only when the server chose to inline the triggering message.
type RoomUpdateEvent struct {
	RoomID  int64
	Message *Message
}

func (RoomUpdateEvent) Type() EventType { return EventRoomUpdate }

// UserJoinEvent signals that a member's presence in a room changed.
// Members, when present, carries the updated member list.
type UserJoinEvent struct {
	RoomID  int64
	UserID  int64
	Members []Member
}

func (UserJoinEvent) Type() EventType { return EventUserJoin }

// UnknownEvent preserves frames with an unrecognized type so subscribers
// can ignore them without the decoder failing.
type UnknownEvent struct {
	Name string
	Raw  json.RawMessage
}

func (UnknownEvent) Type() EventType { return EventType("") }

// DecodeEvent parses a raw push channel frame into its typed variant.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("malformed push event: %w", err)
	}

	switch EventType(w.Type) {
	case EventConnect:
		return ConnectEvent{}, nil
	case EventRoomUpdate:
		ev := RoomUpdateEvent{RoomID: w.roomID()}
		if w.Payload != nil {
			ev.Message = w.Payload.Message
		}
		return ev, nil
	case EventUserJoin:
		ev := UserJoinEvent{RoomID: w.roomID()}
		if w.Payload != nil {
			if w.Payload.UserID != nil {
				ev.UserID = *w.Payload.UserID
			}
			ev.Members = w.Payload.Members
		}
		return ev, nil
	default:
		return UnknownEvent{Name: w.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// JoinNotice is the outbound frame announcing entry into a room.
type JoinNotice struct {
	Type   EventType `json:"type"`
	RoomID int64     `json:"room_id"`
}

// NewJoinNotice builds the outbound join frame for roomID.
func NewJoinNotice(roomID int64) JoinNotice {
	return JoinNotice{Type: EventJoin, RoomID: roomID}
}

// LeaveNotice is the outbound frame announcing exit from a room.
type LeaveNotice struct {
	Type   EventType `json:"type"`
	RoomID int64     `json:"room_id"`
}

// NewLeaveNotice builds the outbound leave frame for roomID.
func NewLeaveNotice(roomID int64) LeaveNotice {
	return LeaveNotice{Type: EventLeave, RoomID: roomID}
}
