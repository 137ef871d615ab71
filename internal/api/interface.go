package api

import (
	"context"
	"io"

	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
)

// UploadResult is the server's reference for a stored attachment.
type UploadResult struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Client defines the REST operations consumed by the sync engine. The
// chat backend is an external collaborator reachable only through this
// contract and the push channel.
type Client interface {
	// ListRooms returns every room the current user belongs to.
	ListRooms(ctx context.Context) ([]domain.Room, error)

	// GetRoom returns a room together with its authoritative member list.
	GetRoom(ctx context.Context, roomID int64) (*domain.Room, []domain.Member, error)

	// MarkRoomRead advances the current user's read watermark. The
	// response body carries no required content.
	MarkRoomRead(ctx context.Context, roomID int64) error

	// ListMessages returns one page of a room's history, newest first.
	ListMessages(ctx context.Context, roomID int64, page, pageSize int) ([]domain.Message, error)

	// LatestMessage returns the single newest message of a room, or nil
	// when the room has none.
	LatestMessage(ctx context.Context, roomID int64) (*domain.Message, error)

	// SendTextMessage creates a text message. clientToken is echoed back
	// by servers that support correlation.
	SendTextMessage(ctx context.Context, roomID int64, content, clientToken string) (*domain.Message, error)

	// SendAttachmentMessage creates a message referencing an uploaded
	// attachment.
	SendAttachmentMessage(ctx context.Context, roomID int64, kind domain.ContentKind, url string, attachmentID int64, clientToken string) (*domain.Message, error)

	// UploadAttachment transfers a file and returns its server reference.
	UploadAttachment(ctx context.Context, filename string, r io.Reader) (*UploadResult, error)

	// CreateDirectRoom opens a one-to-one room with userID. Returns
	// ErrRoomAlreadyExists when such a room already exists so callers can
	// route the user into it.
	CreateDirectRoom(ctx context.Context, userID int64) (*domain.Room, error)

	// CreateGroupRoom creates a group room.
	CreateGroupRoom(ctx context.Context, title, pictureURL string) (*domain.Room, error)
}
