// Package receipt derives per-message unread counts from each room
// member's read watermark.
package receipt

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sparcs-kaist/ara-chat-sync/internal/api"
	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
	"github.com/sparcs-kaist/ara-chat-sync/internal/roster"
	"github.com/sparcs-kaist/ara-chat-sync/pkg/log"
)

// Aggregator computes unread counts on demand. The server owns the
// authoritative watermarks; local patches merely hide the lag between a
// user's own read or join action and the next roster refresh.
type Aggregator struct {
	api    api.Client
	roster *roster.Service
	selfID int64
	log    zerolog.Logger
	now    func() time.Time
}

// NewAggregator creates an aggregator for the current user.
func NewAggregator(client api.Client, rosterSvc *roster.Service, selfID int64, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		api:    client,
		roster: rosterSvc,
		selfID: selfID,
		log:    logger,
		now:    time.Now,
	}
}

// UnreadCount returns how many members other than the sender have not
// yet seen msg. Never cached; callers recompute whenever members or the
// message sequence change.
func UnreadCount(members []domain.Member, msg *domain.Message) int {
	count := 0
	for i := range members {
		if members[i].Profile.UserID == msg.Sender.UserID {
			continue
		}
		if !members[i].HasSeen(msg.CreatedAt) {
			count++
		}
	}
	return count
}

// UnreadCounts returns the unread count for each message of roomID's
// sequence, using the cached member list.
func (a *Aggregator) UnreadCounts(roomID int64, msgs []domain.Message) []int {
	members := a.roster.Members(roomID)
	counts := make([]int, len(msgs))
	for i := range msgs {
		counts[i] = UnreadCount(members, &msgs[i])
	}
	return counts
}

// MarkRead advances the current user's watermark. The local patch is
// applied regardless of the server's response content; a later roster
// refresh reconciles with the authoritative value.
func (a *Aggregator) MarkRead(ctx context.Context, roomID int64) error {
	err := a.api.MarkRoomRead(ctx, roomID)
	a.roster.PatchLastSeen(roomID, a.selfID, a.now())
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	a.log.Debug().Int64(log.FieldRoomID, roomID).Msg("room marked read")
	return nil
}

// OnMemberJoin optimistically sets a joining member's watermark to now;
// a join implies presence. The next authoritative refresh overwrites it.
func (a *Aggregator) OnMemberJoin(roomID, userID int64) {
	a.roster.PatchLastSeen(roomID, userID, a.now())
	a.log.Debug().
		Int64(log.FieldRoomID, roomID).
		Int64(log.FieldUserID, userID).
		Msg("member watermark advanced on join")
}
