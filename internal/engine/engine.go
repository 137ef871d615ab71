// Package engine coordinates the sync services over the single shared
// push connection: one engine per session, many views.
package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sparcs-kaist/ara-chat-sync/internal/api"
	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
	"github.com/sparcs-kaist/ara-chat-sync/internal/push"
	"github.com/sparcs-kaist/ara-chat-sync/internal/receipt"
	"github.com/sparcs-kaist/ara-chat-sync/internal/roster"
	"github.com/sparcs-kaist/ara-chat-sync/internal/stream"
	"github.com/sparcs-kaist/ara-chat-sync/internal/upload"
	"github.com/sparcs-kaist/ara-chat-sync/pkg/log"
)

// ErrNoStagedAttachment is returned when a send requires a ready
// attachment and none is staged.
var ErrNoStagedAttachment = errors.New("no staged attachment")

// Config holds engine behavior settings.
type Config struct {
	PageSize          int
	ReconnectInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.PageSize == 0 {
		c.PageSize = 30
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 5 * time.Second
	}
}

// Engine owns the session-wide sync state. Views call into it; it never
// closes the shared connection on their behalf.
type Engine struct {
	cfg     Config
	conn    push.Conn
	api     api.Client
	roster  *roster.Service
	stream  *stream.Reconciler
	receipt *receipt.Aggregator
	uploads *upload.Pipeline
	log     zerolog.Logger

	mu         sync.Mutex
	activeRoom int64
	runCtx     context.Context
}

// New wires the engine and subscribes its push handlers. The connection
// is constructed once at session start and passed by reference.
func New(cfg Config, conn push.Conn, client api.Client, self domain.Profile, logger zerolog.Logger) *Engine {
	cfg.applyDefaults()

	rosterSvc := roster.NewService(client, logger)
	e := &Engine{
		cfg:     cfg,
		conn:    conn,
		api:     client,
		roster:  rosterSvc,
		stream:  stream.NewReconciler(client, self, logger),
		receipt: receipt.NewAggregator(client, rosterSvc, self.UserID, logger),
		uploads: upload.NewPipeline(client, nil, logger),
		log:     logger,
		runCtx:  context.Background(),
	}

	e.stream.OnSynced(func(roomID int64) {
		if _, err := e.roster.RefreshMembers(e.ctx(), roomID); err != nil {
			e.log.Warn().Err(err).Int64(log.FieldRoomID, roomID).Msg("member refresh failed")
		}
	})

	conn.Subscribe(domain.EventConnect, e.handleConnect)
	conn.Subscribe(domain.EventRoomUpdate, e.handleRoomUpdate)
	conn.Subscribe(domain.EventUserJoin, e.handleUserJoin)
	return e
}

// Run connects the push channel and keeps it alive until ctx is done.
// The reconnect interval is explicit configuration, not an assumption:
// REST calls are never retried, only the transport is re-established.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()

	ticker := time.NewTicker(e.cfg.ReconnectInterval)
	defer ticker.Stop()

	for {
		if e.conn.State() == push.StateDisconnected {
			if err := e.conn.Connect(ctx); err != nil {
				logger := log.Ctx(ctx)
				logger.Warn().Err(err).Msg("push connect failed, will retry")
			}
		}

		select {
		case <-ctx.Done():
			e.conn.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) ctx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx
}

// RefreshRooms reloads the room roster.
func (e *Engine) RefreshRooms(ctx context.Context) error {
	return e.roster.Refresh(ctx)
}

// Rooms returns the cached recency-ordered roster.
func (e *Engine) Rooms() []domain.Room {
	return e.roster.Rooms()
}

// CreateDirectRoom opens (or routes to) a one-to-one room.
func (e *Engine) CreateDirectRoom(ctx context.Context, userID int64) (*domain.Room, error) {
	return e.roster.CreateDirectRoom(ctx, userID)
}

// CreateGroupRoom creates a group room.
func (e *Engine) CreateGroupRoom(ctx context.Context, title, pictureURL string) (*domain.Room, error) {
	return e.roster.CreateGroupRoom(ctx, title, pictureURL)
}

// OpenRoom activates roomID for a detail view: joins it on the push
// channel, installs the first history page, refreshes members and marks
// the room read.
func (e *Engine) OpenRoom(ctx context.Context, roomID int64) error {
	e.mu.Lock()
	e.activeRoom = roomID
	e.mu.Unlock()

	e.stream.Activate(roomID)

	if err := e.conn.JoinRoom(roomID); err != nil {
		// Disconnected: handleConnect re-joins once the channel is back.
		e.log.Debug().Err(err).Int64(log.FieldRoomID, roomID).Msg("join deferred until reconnect")
	}

	if err := e.stream.LoadHistory(ctx, 1, e.cfg.PageSize); err != nil {
		return err
	}
	if _, err := e.roster.RefreshMembers(ctx, roomID); err != nil {
		e.log.Warn().Err(err).Int64(log.FieldRoomID, roomID).Msg("member refresh failed")
	}
	if err := e.receipt.MarkRead(ctx, roomID); err != nil {
		e.log.Warn().Err(err).Int64(log.FieldRoomID, roomID).Msg("mark read failed")
	}
	return nil
}

// CloseRoom deactivates the current room on view teardown. The shared
// connection stays open; its lifetime is process-wide.
func (e *Engine) CloseRoom() {
	e.mu.Lock()
	roomID := e.activeRoom
	e.activeRoom = 0
	e.mu.Unlock()

	if roomID != 0 {
		e.stream.Deactivate()
		e.conn.LeaveRoom(roomID)
	}
}

// Messages returns the active room's sequence, oldest first.
func (e *Engine) Messages() []domain.Message {
	return e.stream.Messages()
}

// UnreadCounts derives the unread count per visible message.
func (e *Engine) UnreadCounts() []int {
	e.mu.Lock()
	roomID := e.activeRoom
	e.mu.Unlock()
	return e.receipt.UnreadCounts(roomID, e.stream.Messages())
}

// SendText sends a text message in the active room and bumps the
// roster's recency for it.
func (e *Engine) SendText(ctx context.Context, content string) error {
	if err := e.stream.SendText(ctx, content); err != nil {
		return err
	}
	e.touchActive(content)
	return nil
}

// StageAttachment uploads a picked file and stages it for sending.
func (e *Engine) StageAttachment(ctx context.Context, filename string, r io.Reader) (*domain.PendingAttachment, error) {
	return e.uploads.Stage(ctx, filename, r)
}

// DiscardAttachment drops the staged attachment.
func (e *Engine) DiscardAttachment() {
	e.uploads.Discard()
}

// SendStagedAttachment sends a message referencing the staged
// attachment. The attachment is consumed only after the send succeeds.
func (e *Engine) SendStagedAttachment(ctx context.Context) error {
	att, ok := e.uploads.Staged()
	if !ok || !att.Ready() {
		return ErrNoStagedAttachment
	}
	if err := e.stream.SendAttachment(ctx, att); err != nil {
		return err
	}
	e.uploads.Take()
	e.touchActive(att.Filename)
	return nil
}

// MarkRead advances the current user's watermark in the active room.
func (e *Engine) MarkRead(ctx context.Context) error {
	e.mu.Lock()
	roomID := e.activeRoom
	e.mu.Unlock()
	if roomID == 0 {
		return nil
	}
	return e.receipt.MarkRead(ctx, roomID)
}

func (e *Engine) touchActive(summary string) {
	e.mu.Lock()
	roomID := e.activeRoom
	e.mu.Unlock()
	if roomID != 0 {
		e.roster.Touch(roomID, time.Now(), summary)
	}
}

// handleConnect re-joins the previously active room before any new
// user-initiated join is replayed by the connection.
func (e *Engine) handleConnect(domain.Event) {
	e.mu.Lock()
	roomID := e.activeRoom
	e.mu.Unlock()
	if roomID == 0 {
		return
	}
	if err := e.conn.JoinRoom(roomID); err != nil {
		e.log.Warn().Err(err).Int64(log.FieldRoomID, roomID).Msg("re-join failed")
	}
}

// handleRoomUpdate fans new-activity notifications out: the active room
// syncs its latest message, every room's recency is bumped so the
// roster keeps its ordering.
func (e *Engine) handleRoomUpdate(ev domain.Event) {
	update, ok := ev.(domain.RoomUpdateEvent)
	if !ok {
		return
	}

	if update.Message != nil {
		e.roster.Touch(update.RoomID, update.Message.CreatedAt, update.Message.Content)
	} else if err := e.roster.Refresh(e.ctx()); err != nil {
		e.log.Warn().Err(err).Msg("roster refresh failed")
	}

	e.stream.HandlePush(e.ctx(), ev)
}

// handleUserJoin applies a presence change: the joining member's
// watermark moves to now, and a pushed member list replaces the cache.
func (e *Engine) handleUserJoin(ev domain.Event) {
	join, ok := ev.(domain.UserJoinEvent)
	if !ok {
		return
	}

	if len(join.Members) > 0 {
		e.roster.ReplaceMembers(join.RoomID, join.Members)
	}
	if join.UserID != 0 {
		e.receipt.OnMemberJoin(join.RoomID, join.UserID)
	}
}
