package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sparcs-kaist/ara-chat-sync/internal/api"
	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
)

type fakeAPI struct {
	api.Client
	listRooms    func(ctx context.Context) ([]domain.Room, error)
	getRoom      func(ctx context.Context, roomID int64) (*domain.Room, []domain.Member, error)
	createDirect func(ctx context.Context, userID int64) (*domain.Room, error)
}

func (f *fakeAPI) ListRooms(ctx context.Context) ([]domain.Room, error) {
	return f.listRooms(ctx)
}

func (f *fakeAPI) GetRoom(ctx context.Context, roomID int64) (*domain.Room, []domain.Member, error) {
	return f.getRoom(ctx, roomID)
}

func (f *fakeAPI) CreateDirectRoom(ctx context.Context, userID int64) (*domain.Room, error) {
	return f.createDirect(ctx, userID)
}

func at(h int) time.Time {
	return time.Date(2025, 3, 1, h, 0, 0, 0, time.UTC)
}

func roomWithActivity(id int64, created time.Time, recent *time.Time) domain.Room {
	return domain.Room{ID: id, Kind: domain.RoomKindGroup, CreatedAt: created, RecentMessageAt: recent}
}

func TestRefreshSortsByActivity(t *testing.T) {
	tenAM := at(10)
	f := &fakeAPI{listRooms: func(context.Context) ([]domain.Room, error) {
		return []domain.Room{
			roomWithActivity(1, at(8), nil),     // activity 08:00
			roomWithActivity(2, at(6), &tenAM),  // activity 10:00
			roomWithActivity(3, at(9), nil),     // activity 09:00
		}, nil
	}}
	s := NewService(f, zerolog.Nop())

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	rooms := s.Rooms()
	if len(rooms) != 3 {
		t.Fatalf("expected 3 rooms, got %d", len(rooms))
	}
	for i, want := range []int64{2, 3, 1} {
		if rooms[i].ID != want {
			t.Fatalf("position %d: expected room %d, got %d", i, want, rooms[i].ID)
		}
	}
}

func TestStaleListResponseDiscarded(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	calls := 0

	f := &fakeAPI{listRooms: func(ctx context.Context) ([]domain.Room, error) {
		calls++
		if calls == 1 {
			close(firstStarted)
			<-releaseFirst
			return []domain.Room{roomWithActivity(1, at(8), nil)}, nil
		}
		return []domain.Room{roomWithActivity(2, at(9), nil)}, nil
	}}
	s := NewService(f, zerolog.Nop())

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Refresh(context.Background()) }()
	<-firstStarted

	// Second refresh supersedes the first while it is still in flight.
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(releaseFirst)
	if err := <-firstDone; err != nil {
		t.Fatal(err)
	}

	rooms := s.Rooms()
	if len(rooms) != 1 || rooms[0].ID != 2 {
		t.Fatalf("stale response must not overwrite newer one, got %+v", rooms)
	}
}

func TestRefreshFailureRetainsLastKnown(t *testing.T) {
	fail := false
	f := &fakeAPI{listRooms: func(context.Context) ([]domain.Room, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return []domain.Room{roomWithActivity(1, at(8), nil)}, nil
	}}
	s := NewService(f, zerolog.Nop())

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	fail = true
	err := s.Refresh(context.Background())
	if !errors.Is(err, ErrRosterFetchFailed) {
		t.Fatalf("expected ErrRosterFetchFailed, got %v", err)
	}
	if rooms := s.Rooms(); len(rooms) != 1 {
		t.Fatalf("last known roster must be retained, got %+v", rooms)
	}
}

func TestRefreshMembersReplacesWholesale(t *testing.T) {
	seen := at(9)
	members := []domain.Member{
		{Profile: domain.Profile{UserID: 1, Nickname: "a"}, Role: domain.MemberRoleOwner},
	}
	f := &fakeAPI{getRoom: func(_ context.Context, roomID int64) (*domain.Room, []domain.Member, error) {
		return &domain.Room{ID: roomID}, members, nil
	}}
	s := NewService(f, zerolog.Nop())

	got, err := s.RefreshMembers(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Profile.Nickname != "a" {
		t.Fatalf("unexpected members %+v", got)
	}

	// A new authoritative list replaces the old one entirely.
	members = []domain.Member{
		{Profile: domain.Profile{UserID: 2, Nickname: "b"}, Role: domain.MemberRoleMember, LastSeenAt: &seen},
	}
	got, err = s.RefreshMembers(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Profile.UserID != 2 {
		t.Fatalf("expected wholesale replace, got %+v", got)
	}
	if cached := s.Members(42); len(cached) != 1 || cached[0].Profile.UserID != 2 {
		t.Fatalf("unexpected cache %+v", cached)
	}
}

func TestCreateDirectRoomConflictPassesThrough(t *testing.T) {
	f := &fakeAPI{createDirect: func(context.Context, int64) (*domain.Room, error) {
		return nil, api.ErrRoomAlreadyExists
	}}
	s := NewService(f, zerolog.Nop())

	_, err := s.CreateDirectRoom(context.Background(), 5)
	if !errors.Is(err, api.ErrRoomAlreadyExists) {
		t.Fatalf("expected ErrRoomAlreadyExists, got %v", err)
	}
	if rooms := s.Rooms(); len(rooms) != 0 {
		t.Fatalf("conflict must not modify the cache, got %+v", rooms)
	}
}

func TestCreateDirectRoomAppendsSorted(t *testing.T) {
	f := &fakeAPI{
		listRooms: func(context.Context) ([]domain.Room, error) {
			return []domain.Room{roomWithActivity(1, at(8), nil)}, nil
		},
		createDirect: func(context.Context, int64) (*domain.Room, error) {
			r := roomWithActivity(9, at(12), nil)
			return &r, nil
		},
	}
	s := NewService(f, zerolog.Nop())

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateDirectRoom(context.Background(), 5); err != nil {
		t.Fatal(err)
	}

	rooms := s.Rooms()
	if len(rooms) != 2 || rooms[0].ID != 9 {
		t.Fatalf("new room should sort first by creation time, got %+v", rooms)
	}
}

func TestTouchResorts(t *testing.T) {
	f := &fakeAPI{listRooms: func(context.Context) ([]domain.Room, error) {
		return []domain.Room{
			roomWithActivity(1, at(9), nil),
			roomWithActivity(2, at(8), nil),
		}, nil
	}}
	s := NewService(f, zerolog.Nop())

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Touch(2, at(11), "new message")

	rooms := s.Rooms()
	if rooms[0].ID != 2 {
		t.Fatalf("touched room should sort first, got %+v", rooms)
	}
	if rooms[0].RecentMessage != "new message" {
		t.Fatalf("expected summary update, got %q", rooms[0].RecentMessage)
	}
}

func TestPatchLastSeen(t *testing.T) {
	f := &fakeAPI{getRoom: func(_ context.Context, roomID int64) (*domain.Room, []domain.Member, error) {
		return &domain.Room{ID: roomID}, []domain.Member{
			{Profile: domain.Profile{UserID: 1}},
			{Profile: domain.Profile{UserID: 2}},
		}, nil
	}}
	s := NewService(f, zerolog.Nop())

	if _, err := s.RefreshMembers(context.Background(), 42); err != nil {
		t.Fatal(err)
	}
	now := at(10)
	s.PatchLastSeen(42, 2, now)

	members := s.Members(42)
	if members[0].LastSeenAt != nil {
		t.Fatal("member 1 must be untouched")
	}
	if members[1].LastSeenAt == nil || !members[1].LastSeenAt.Equal(now) {
		t.Fatalf("member 2 watermark not patched: %+v", members[1])
	}
}
