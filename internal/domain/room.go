package domain

import (
	"time"
)

// RoomKind represents the kind of a chat room.
type RoomKind string

const (
	RoomKindDirect RoomKind = "direct"
	RoomKindGroup  RoomKind = "group"
)

// NameMode controls how member names are displayed inside a room.
type NameMode string

const (
	NameModeNickname  NameMode = "nickname"
	NameModeAnonymous NameMode = "anonymous"
)

// Room represents a chat room as cached on the client.
type Room struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Kind            RoomKind   `json:"kind"`
	NameMode        NameMode   `json:"name_mode"`
	PictureURL      string     `json:"picture_url,omitempty"`
	RecentMessage   string     `json:"recent_message,omitempty"`
	RecentMessageAt *time.Time `json:"recent_message_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ActivityAt returns the timestamp used for roster ordering: the most
// recent message time, falling back to creation time for quiet rooms.
func (r *Room) ActivityAt() time.Time {
	if r.RecentMessageAt != nil && r.RecentMessageAt.After(r.CreatedAt) {
		return *r.RecentMessageAt
	}
	return r.CreatedAt
}

// Profile is a denormalized snapshot of a user as embedded in messages
// and member lists.
type Profile struct {
	UserID     int64  `json:"user_id"`
	Nickname   string `json:"nickname"`
	PictureURL string `json:"picture_url,omitempty"`
}

// MemberRole represents a member's role within a room.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleMember MemberRole = "member"
)

// Member represents a room member together with their read watermark.
// LastSeenAt is nil for members who have never opened the room.
type Member struct {
	Profile    Profile    `json:"profile"`
	Role       MemberRole `json:"role"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// HasSeen reports whether the member has read up to and including t.
func (m *Member) HasSeen(t time.Time) bool {
	return m.LastSeenAt != nil && !m.LastSeenAt.Before(t)
}
