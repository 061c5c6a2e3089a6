package room

import (
	"context"
	"testing"

	"campuschat/pkg/apperr"
	"campuschat/pkg/models"
	"campuschat/pkg/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewRegistry(AllowAll)
}

func TestCreateGroupRoom(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()

	r, err := g.CreateGroupRoom(ctx, "alice", "study group", "weekly sync", models.RoomGroup, []string{"bob", "carol", "alice", "bob"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(r.Participants) != 3 {
		t.Fatalf("expected 3 deduplicated participants, got %d", len(r.Participants))
	}
	creator := r.Participant("alice")
	if creator == nil || creator.Role != models.RoleAdmin {
		t.Fatalf("creator must be admin: %+v", creator)
	}
	if bob := r.Participant("bob"); bob == nil || bob.Role != models.RoleMember {
		t.Fatalf("added participant must be member: %+v", bob)
	}
	if !r.Settings.AllowEditMessages || !r.Settings.AllowDeleteMessages {
		t.Fatalf("defaults not applied: %+v", r.Settings)
	}

	got, err := g.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "study group" || got.Type != models.RoomGroup {
		t.Fatalf("persisted room wrong: %+v", got)
	}
}

func TestCreateGroupRoomValidation(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name         string
		roomName     string
		roomType     models.RoomType
		participants []string
		course       string
	}{
		{"missing name", "", models.RoomGroup, []string{"bob"}, ""},
		{"bad type", "r", models.RoomType("direct"), []string{"bob"}, ""},
		{"course without ref", "r", models.RoomCourse, []string{"bob"}, ""},
		{"ref without course type", "r", models.RoomGroup, []string{"bob"}, "cs101"},
		{"creator alone", "r", models.RoomGroup, nil, ""},
	}
	for _, tc := range cases {
		_, err := g.CreateGroupRoom(ctx, "alice", tc.roomName, "", tc.roomType, tc.participants, tc.course)
		if !apperr.IsKind(err, apperr.KindValidationFailed) {
			t.Fatalf("%s: got %v, want validation_failed", tc.name, err)
		}
	}
}

func TestDirectRoomIdempotent(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()

	r1, err := g.GetOrCreateDirectRoom(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if r1.Type != models.RoomDirect || len(r1.Participants) != 2 {
		t.Fatalf("direct room shape wrong: %+v", r1)
	}

	// same pair in either order resolves to the identical room
	r2, err := g.GetOrCreateDirectRoom(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if r2.ID != r1.ID {
		t.Fatalf("pair created two rooms: %s vs %s", r1.ID, r2.ID)
	}

	if _, err := g.GetOrCreateDirectRoom(ctx, "alice", "alice"); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("self direct room: got %v", err)
	}
}

func TestAddParticipants(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()
	r, err := g.CreateGroupRoom(ctx, "alice", "r", "", models.RoomGroup, []string{"bob"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// members cannot add
	if _, err := g.AddParticipants(ctx, r.ID, "bob", []string{"carol"}); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("member add: got %v", err)
	}

	updated, err := g.AddParticipants(ctx, r.ID, "alice", []string{"carol", "bob"})
	if err != nil {
		t.Fatalf("admin add: %v", err)
	}
	if len(updated.Participants) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(updated.Participants))
	}

	// direct rooms have a fixed pair
	d, err := g.GetOrCreateDirectRoom(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if _, err := g.AddParticipants(ctx, d.ID, "alice", []string{"carol"}); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("direct add: got %v", err)
	}
}

func TestRemoveParticipant(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()
	r, err := g.CreateGroupRoom(ctx, "alice", "r", "", models.RoomGroup, []string{"bob", "carol"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// a member may remove themselves but nobody else
	if _, err := g.RemoveParticipant(ctx, r.ID, "bob", "carol"); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("member removing other: got %v", err)
	}
	updated, err := g.RemoveParticipant(ctx, r.ID, "bob", "bob")
	if err != nil {
		t.Fatalf("self removal: %v", err)
	}
	if updated.IsParticipant("bob") {
		t.Fatal("bob still a participant")
	}

	if _, err := g.RemoveParticipant(ctx, r.ID, "alice", "bob"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("removing absent user: got %v", err)
	}

	// bob's room list no longer includes the room
	rooms, err := g.ListRooms(ctx, "bob")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, rm := range rooms {
		if rm.ID == r.ID {
			t.Fatal("membership index still lists the room")
		}
	}
}

func TestRemoveParticipantDirectRoom(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()
	r, err := g.GetOrCreateDirectRoom(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// leaving a direct room is not a thing; hiding it is delete-for-me
	if _, err := g.RemoveParticipant(ctx, r.ID, "bob", "bob"); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("self-leave in direct room: got %v", err)
	}

	cur, err := g.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(cur.Participants) != 2 {
		t.Fatalf("direct room has %d participants", len(cur.Participants))
	}
}

func TestUpdateSettings(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()
	r, err := g.CreateGroupRoom(ctx, "alice", "r", "", models.RoomGroup, []string{"bob"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f := false
	if _, err := g.UpdateSettings(ctx, r.ID, "bob", models.SettingsPatch{AllowEditMessages: &f}); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("member patch: got %v", err)
	}

	updated, err := g.UpdateSettings(ctx, r.ID, "alice", models.SettingsPatch{AllowEditMessages: &f})
	if err != nil {
		t.Fatalf("admin patch: %v", err)
	}
	if updated.Settings.AllowEditMessages {
		t.Fatal("patch not applied")
	}
	// untouched fields keep their values
	if !updated.Settings.AllowDeleteMessages || !updated.Settings.AllowFileSharing {
		t.Fatalf("merge patch clobbered settings: %+v", updated.Settings)
	}
}

func TestGetUnknownRoom(t *testing.T) {
	g := newTestRegistry(t)
	if _, err := g.Get(context.Background(), "room-nope"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("got %v, want not_found", err)
	}
}

func TestListRooms(t *testing.T) {
	g := newTestRegistry(t)
	ctx := context.Background()
	r1, _ := g.CreateGroupRoom(ctx, "alice", "one", "", models.RoomGroup, []string{"bob"}, "")
	r2, _ := g.CreateGroupRoom(ctx, "alice", "two", "", models.RoomGroup, []string{"carol"}, "")

	rooms, err := g.ListRooms(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("alice rooms: got %d want 2", len(rooms))
	}
	rooms, err = g.ListRooms(ctx, "bob")
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != r1.ID {
		t.Fatalf("bob rooms wrong: %v", rooms)
	}
	_ = r2
}

func TestUnknownUserRejected(t *testing.T) {
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	g := NewRegistry(ResolverFunc(func(_ context.Context, userID string) (bool, error) {
		return userID == "alice" || userID == "bob", nil
	}))
	_, err := g.CreateGroupRoom(context.Background(), "alice", "r", "", models.RoomGroup, []string{"ghost"}, "")
	if !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("unknown participant: got %v", err)
	}
}
