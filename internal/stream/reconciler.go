// Package stream reconciles a room's message sequence from three racing
// inputs: paginated history fetches, optimistic local sends, and
// latest-message fetches triggered by push notifications.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sparcs-kaist/ara-chat-sync/internal/api"
	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
	"github.com/sparcs-kaist/ara-chat-sync/internal/generation"
	"github.com/sparcs-kaist/ara-chat-sync/pkg/log"
)

// ErrSendFailed wraps a server-side message rejection. The optimistic
// entry has already been rolled back; nothing is retried automatically.
var ErrSendFailed = errors.New("send failed")

// ErrNoActiveRoom is returned by operations that require Activate first.
var ErrNoActiveRoom = errors.New("no active room")

// Reconciler owns the message sequence of the currently active room.
// The sequence is always ascending by creation time; optimistic entries
// are appended at the tail and never reordered after confirmation.
type Reconciler struct {
	api  api.Client
	self domain.Profile
	log  zerolog.Logger

	// onSynced, when set, is invoked after a push-triggered sync so the
	// session layer can request a member-roster refresh.
	onSynced func(roomID int64)

	mu       sync.Mutex
	roomID   int64
	messages []domain.Message
	histGen  generation.Counter

	now func() time.Time
}

// NewReconciler creates a reconciler for the user identified by self.
func NewReconciler(client api.Client, self domain.Profile, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		api:  client,
		self: self,
		log:  logger,
		now:  time.Now,
	}
}

// OnSynced registers the hook invoked after a push-triggered sync.
func (r *Reconciler) OnSynced(f func(roomID int64)) {
	r.onSynced = f
}

// Activate makes roomID the active room and clears the sequence. The
// next LoadHistory installs the initial sequence.
func (r *Reconciler) Activate(roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roomID = roomID
	r.messages = nil
	r.histGen.Next() // invalidate in-flight history fetches
}

// Deactivate clears the active room.
func (r *Reconciler) Deactivate() {
	r.Activate(0)
}

// ActiveRoom returns the active room, if any.
func (r *Reconciler) ActiveRoom() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID, r.roomID != 0
}

// Messages returns a copy of the visible sequence, oldest first.
func (r *Reconciler) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.messages...)
}

// LoadHistory fetches one page (newest first from the server), reverses
// it to oldest first, and installs it as the sequence. It replaces, not
// merges; only valid as the first load for a room. A page superseded by
// a newer load or a room switch is discarded.
func (r *Reconciler) LoadHistory(ctx context.Context, page, pageSize int) error {
	r.mu.Lock()
	roomID := r.roomID
	r.mu.Unlock()
	if roomID == 0 {
		return ErrNoActiveRoom
	}

	tok := r.histGen.Next()
	msgs, err := r.api.ListMessages(ctx, roomID, page, pageSize)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	reversed := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		reversed[len(msgs)-1-i] = m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !tok.Latest() || r.roomID != roomID {
		r.log.Debug().Int64(log.FieldRoomID, roomID).Msg("discarding stale history page")
		return nil
	}
	r.messages = reversed
	return nil
}

// SendText appends an optimistic entry, issues the server call, and on
// success syncs the latest message so the confirmation merges in. On
// failure the optimistic entry is rolled back and the error surfaced.
func (r *Reconciler) SendText(ctx context.Context, content string) error {
	return r.send(ctx, domain.ContentKindText, content, nil)
}

// SendAttachment sends a message referencing a consumed attachment.
func (r *Reconciler) SendAttachment(ctx context.Context, att *domain.PendingAttachment) error {
	return r.send(ctx, att.Kind, att.URL, att)
}

func (r *Reconciler) send(ctx context.Context, kind domain.ContentKind, content string, att *domain.PendingAttachment) error {
	r.mu.Lock()
	roomID := r.roomID
	if roomID == 0 {
		r.mu.Unlock()
		return ErrNoActiveRoom
	}

	optimistic := domain.Message{
		RoomID:      roomID,
		Sender:      r.self,
		Kind:        kind,
		Content:     content,
		CreatedAt:   r.now(),
		ClientToken: uuid.NewString(),
	}
	if att != nil {
		optimistic.AttachmentID = att.ID
	}
	r.messages = append(r.messages, optimistic)
	r.mu.Unlock()

	var err error
	if att != nil {
		_, err = r.api.SendAttachmentMessage(ctx, roomID, att.Kind, att.URL, att.ID, optimistic.ClientToken)
	} else {
		_, err = r.api.SendTextMessage(ctx, roomID, content, optimistic.ClientToken)
	}
	if err != nil {
		r.rollback(optimistic.ClientToken)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if err := r.SyncLatest(ctx); err != nil {
		// The send itself succeeded; a failed confirmation fetch leaves
		// the optimistic entry visible until the next sync.
		r.log.Warn().Err(err).Int64(log.FieldRoomID, roomID).Msg("post-send sync failed")
	}
	return nil
}

// rollback removes the unconfirmed optimistic entry with the token.
func (r *Reconciler) rollback(clientToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if !r.messages[i].Confirmed() && r.messages[i].ClientToken == clientToken {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return
		}
	}
}

// SyncLatest fetches the single newest message and merges it into the
// sequence. Racing calls (push-triggered and post-send) converge because
// merge is idempotent.
func (r *Reconciler) SyncLatest(ctx context.Context) error {
	r.mu.Lock()
	roomID := r.roomID
	r.mu.Unlock()
	if roomID == 0 {
		return ErrNoActiveRoom
	}

	latest, err := r.api.LatestMessage(ctx, roomID)
	if err != nil {
		return fmt.Errorf("sync latest: %w", err)
	}
	if latest == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roomID != roomID {
		return nil
	}
	r.merge(*latest)
	return nil
}

// merge applies the dedup rule. Optimistic entries carry no server
// identifier, and near-simultaneous confirmations and push fetches must
// not produce visible duplicates:
//  1. A message whose identifier is already present is dropped.
//  2. An unconfirmed entry the incoming message looks like (echoed
//     client token, else sender + content + minute-truncated timestamp)
//     is replaced in place, preserving its position.
//  3. Otherwise the message is appended at the tail.
func (r *Reconciler) merge(incoming domain.Message) {
	for i := range r.messages {
		if r.messages[i].Confirmed() && r.messages[i].ID == incoming.ID {
			return
		}
	}

	for i := range r.messages {
		if r.messages[i].Confirmed() {
			continue
		}
		if r.messages[i].LooksLike(&incoming) {
			r.log.Debug().
				Int64(log.FieldMessageID, incoming.ID).
				Str(log.FieldClientToken, r.messages[i].ClientToken).
				Msg("optimistic entry confirmed")
			r.messages[i] = incoming
			return
		}
	}

	r.messages = append(r.messages, incoming)
}

// HandlePush reacts to a push notification. Only room-update events for
// the active room are relevant here; events for other rooms update the
// roster's recency ordering elsewhere.
func (r *Reconciler) HandlePush(ctx context.Context, ev domain.Event) {
	update, ok := ev.(domain.RoomUpdateEvent)
	if !ok {
		return
	}

	r.mu.Lock()
	active := r.roomID
	r.mu.Unlock()
	if active == 0 || update.RoomID != active {
		return
	}

	if err := r.SyncLatest(ctx); err != nil {
		r.log.Warn().Err(err).Int64(log.FieldRoomID, active).Msg("push-triggered sync failed")
	}
	if r.onSynced != nil {
		r.onSynced(active)
	}
}
