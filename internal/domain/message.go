package domain

import (
	"time"
)

// ContentKind represents what a message carries.
type ContentKind string

const (
	ContentKindText  ContentKind = "text"
	ContentKindImage ContentKind = "image"
	ContentKindFile  ContentKind = "file"
)

// Message represents a chat message. ID is zero for optimistic entries
// that have not yet been confirmed by the server; once assigned it never
// changes. ClientToken correlates an optimistic entry with its eventual
// server-confirmed counterpart.
type Message struct {
	ID           int64       `json:"id,omitempty"`
	RoomID       int64       `json:"room_id"`
	Sender       Profile     `json:"sender"`
	Kind         ContentKind `json:"kind"`
	Content      string      `json:"content"`
	AttachmentID int64       `json:"attachment_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	ClientToken  string      `json:"client_token,omitempty"`
}

// Confirmed reports whether the server has assigned an identifier.
func (m *Message) Confirmed() bool {
	return m.ID != 0
}

// SameMinute reports whether both messages fall within the same
// minute-truncated timestamp. Used by the near-duplicate heuristic when
// no client token is available to correlate an optimistic entry.
func (m *Message) SameMinute(other *Message) bool {
	return m.CreatedAt.Truncate(time.Minute).Equal(other.CreatedAt.Truncate(time.Minute))
}

// LooksLike reports whether other is plausibly the server confirmation
// of this unconfirmed entry: an echoed client token is authoritative,
// otherwise sender, content and minute-truncated timestamp must match.
// Two distinct messages with identical content from the same sender
// within one minute will incorrectly merge under the fallback.
func (m *Message) LooksLike(other *Message) bool {
	if m.ClientToken != "" && m.ClientToken == other.ClientToken {
		return true
	}
	return m.Sender.UserID == other.Sender.UserID &&
		m.Content == other.Content &&
		m.SameMinute(other)
}
