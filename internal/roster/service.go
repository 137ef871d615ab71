// Package roster maintains the client's cached, recency-ordered list of
// chat rooms and per-room member lists.
package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sparcs-kaist/ara-chat-sync/internal/api"
	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
	"github.com/sparcs-kaist/ara-chat-sync/internal/generation"
	"github.com/sparcs-kaist/ara-chat-sync/pkg/log"
)

// ErrRosterFetchFailed marks a non-fatal roster refresh failure; the
// last known roster is retained.
var ErrRosterFetchFailed = errors.New("roster fetch failed")

// Service caches rooms and members. All reads return copies; mutations
// happen only through this API.
type Service struct {
	api api.Client
	log zerolog.Logger

	mu      sync.Mutex
	rooms   []domain.Room
	members map[int64][]domain.Member

	listGen    generation.Counter
	memberGens map[int64]*generation.Counter
	sf         singleflight.Group
}

// NewService creates a roster service with an empty cache.
func NewService(client api.Client, logger zerolog.Logger) *Service {
	return &Service{
		api:        client,
		log:        logger,
		members:    make(map[int64][]domain.Member),
		memberGens: make(map[int64]*generation.Counter),
	}
}

// Rooms returns the cached rooms ordered descending by activity.
func (s *Service) Rooms() []domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Room(nil), s.rooms...)
}

// Refresh replaces the cached room list from the server. Responses for
// superseded refreshes are discarded; the latest issued request wins.
func (s *Service) Refresh(ctx context.Context) error {
	tok := s.listGen.Next()

	rooms, err := s.api.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRosterFetchFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !tok.Latest() {
		s.log.Debug().Msg("discarding stale room list response")
		return nil
	}
	s.rooms = rooms
	s.resortLocked()
	return nil
}

// Members returns the cached member list for roomID.
func (s *Service) Members(roomID int64) []domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Member(nil), s.members[roomID]...)
}

// RefreshMembers fetches the authoritative member list for roomID and
// replaces the cached one wholesale. Concurrent refreshes for the same
// room are collapsed into one call.
func (s *Service) RefreshMembers(ctx context.Context, roomID int64) ([]domain.Member, error) {
	tok := s.memberGen(roomID).Next()

	key := fmt.Sprintf("members:%d", roomID)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		_, members, err := s.api.GetRoom(ctx, roomID)
		return members, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRosterFetchFailed, err)
	}
	members := v.([]domain.Member)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !tok.Latest() {
		s.log.Debug().Int64(log.FieldRoomID, roomID).Msg("discarding stale member response")
		return append([]domain.Member(nil), s.members[roomID]...), nil
	}
	s.members[roomID] = members
	return append([]domain.Member(nil), members...), nil
}

// ReplaceMembers installs a member list delivered out-of-band (a push
// event carrying the updated list). In-flight refreshes are invalidated
// so they cannot overwrite it with an older snapshot.
func (s *Service) ReplaceMembers(roomID int64, members []domain.Member) {
	s.memberGen(roomID).Next()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[roomID] = append([]domain.Member(nil), members...)
}

func (s *Service) memberGen(roomID int64) *generation.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.memberGens[roomID]
	if !ok {
		g = &generation.Counter{}
		s.memberGens[roomID] = g
	}
	return g
}

// CreateDirectRoom opens a one-to-one room and appends it to the cache.
// api.ErrRoomAlreadyExists passes through so the caller can route the
// user into the existing room.
func (s *Service) CreateDirectRoom(ctx context.Context, userID int64) (*domain.Room, error) {
	room, err := s.api.CreateDirectRoom(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.insert(*room)
	return room, nil
}

// CreateGroupRoom creates a group room and appends it to the cache.
func (s *Service) CreateGroupRoom(ctx context.Context, title, pictureURL string) (*domain.Room, error) {
	room, err := s.api.CreateGroupRoom(ctx, title, pictureURL)
	if err != nil {
		return nil, err
	}
	s.insert(*room)
	return room, nil
}

func (s *Service) insert(room domain.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, room)
	s.resortLocked()
}

// Touch bumps a room's recency on push activity and re-sorts the list.
// Unknown rooms are ignored; the next Refresh will pick them up.
func (s *Service) Touch(roomID int64, at time.Time, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			t := at
			s.rooms[i].RecentMessageAt = &t
			if summary != "" {
				s.rooms[i].RecentMessage = summary
			}
			s.resortLocked()
			return
		}
	}
}

// PatchLastSeen optimistically updates one member's read watermark.
// The next authoritative RefreshMembers overwrites it.
func (s *Service) PatchLastSeen(roomID, userID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.members[roomID]
	for i := range members {
		if members[i].Profile.UserID == userID {
			t := at
			members[i].LastSeenAt = &t
			return
		}
	}
}

// resortLocked restores the roster invariant: descending by
// max(recentMessageAt, createdAt). Callers hold s.mu.
func (s *Service) resortLocked() {
	sort.SliceStable(s.rooms, func(i, j int) bool {
		return s.rooms[i].ActivityAt().After(s.rooms[j].ActivityAt())
	})
}
