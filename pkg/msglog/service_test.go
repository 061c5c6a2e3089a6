package msglog

import (
	"context"
	"sync"
	"testing"

	"campuschat/pkg/apperr"
	"campuschat/pkg/models"
	"campuschat/pkg/room"
	"campuschat/pkg/store"
)

// eventRecorder captures published events so tests can assert on the
// exactly-one-event-per-commit contract without a running hub.
type eventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *eventRecorder) Publish(ev models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) byType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *room.Registry, *eventRecorder) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	rec := &eventRecorder{}
	g := room.NewRegistry(room.AllowAll)
	return New(g, rec), g, rec
}

func makeRoom(t *testing.T, g *room.Registry, creator string, others ...string) *models.Room {
	t.Helper()
	r, err := g.CreateGroupRoom(context.Background(), creator, "test room", "", models.RoomGroup, others, "")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return r
}

func TestAppendAssignsSequence(t *testing.T) {
	s, g, rec := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")

	for i := 1; i <= 3; i++ {
		m, err := s.Append(ctx, r.ID, "alice", SendRequest{Content: "hi"})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if m.Seq != uint64(i) {
			t.Fatalf("seq: got %d want %d", m.Seq, i)
		}
		if m.Type != models.TypeText {
			t.Fatalf("default type: got %s", m.Type)
		}
		if len(m.DeliveredTo) != 0 || len(m.ReadBy) != 0 {
			t.Fatal("fresh message must have empty receipt sets")
		}
	}

	evs := rec.byType(models.EventNewMessage)
	if len(evs) != 3 {
		t.Fatalf("expected 3 new_message events, got %d", len(evs))
	}
	if evs[0].Room != r.ID {
		t.Fatalf("event room: got %s", evs[0].Room)
	}

	// the room entry's denormalized cursor was rewritten alongside
	cur, err := g.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if cur.LastSeq != 3 || cur.UpdatedTS == r.UpdatedTS {
		t.Fatalf("room cursor not rewritten: lastSeq=%d", cur.LastSeq)
	}
}

func TestAppendRejectsNonParticipant(t *testing.T) {
	s, g, _ := newTestService(t)
	r := makeRoom(t, g, "alice", "bob")
	_, err := s.Append(context.Background(), r.ID, "mallory", SendRequest{Content: "hi"})
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("got %v, want forbidden", err)
	}
}

func TestAppendValidation(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")

	if _, err := s.Append(ctx, r.ID, "alice", SendRequest{}); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("empty payload: got %v", err)
	}
	if _, err := s.Append(ctx, r.ID, "alice", SendRequest{Content: "x", Type: "carrier-pigeon"}); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("bad type: got %v", err)
	}
	if _, err := s.Append(ctx, r.ID, "alice", SendRequest{
		Type:        models.TypeFile,
		Attachments: []models.Attachment{{OriginalName: "a.pdf"}},
	}); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("attachment without storage ref: got %v", err)
	}
	if _, err := s.Append(ctx, r.ID, "alice", SendRequest{
		Type:        models.TypeFile,
		Attachments: []models.Attachment{{OriginalName: "big.bin", StorageRef: "s/1", Size: 51 * 1024 * 1024}},
	}); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("oversized attachment: got %v", err)
	}
}

func TestAttachmentOnlySendUsesFilename(t *testing.T) {
	s, g, _ := newTestService(t)
	r := makeRoom(t, g, "alice", "bob")
	m, err := s.Append(context.Background(), r.ID, "alice", SendRequest{
		Type:        models.TypeImage,
		Attachments: []models.Attachment{{OriginalName: "photo.jpg", StorageRef: "s/2", Size: 1024}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if m.Content != "photo.jpg" {
		t.Fatalf("placeholder content: got %q", m.Content)
	}
}

func TestFileSharingDisabled(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")
	f := false
	if _, err := g.UpdateSettings(ctx, r.ID, "alice", models.SettingsPatch{AllowFileSharing: &f}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	_, err := s.Append(ctx, r.ID, "alice", SendRequest{
		Type:        models.TypeFile,
		Attachments: []models.Attachment{{OriginalName: "a.pdf", StorageRef: "s/3"}},
	})
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("got %v, want forbidden", err)
	}
}

func TestAdminOnlyRoom(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")
	tr := true
	if _, err := g.UpdateSettings(ctx, r.ID, "alice", models.SettingsPatch{AllowOnlyAdmins: &tr}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if _, err := s.Append(ctx, r.ID, "bob", SendRequest{Content: "hi"}); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("member in admin-only room: got %v", err)
	}
	if _, err := s.Append(ctx, r.ID, "alice", SendRequest{Content: "hi"}); err != nil {
		t.Fatalf("admin in admin-only room: %v", err)
	}
}

func TestAnnouncementRoomPosting(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r, err := g.CreateGroupRoom(ctx, "prof", "announcements", "", models.RoomAnnouncement, []string{"student"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Append(ctx, r.ID, "student", SendRequest{Content: "hi"}); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("student posting announcement: got %v", err)
	}
	if _, err := s.Append(ctx, r.ID, "prof", SendRequest{Content: "exam friday"}); err != nil {
		t.Fatalf("admin posting: %v", err)
	}
	// announcement rooms are readable by anyone
	msgs, err := s.Retrieve(ctx, r.ID, "stranger", 1, 10)
	if err != nil {
		t.Fatalf("stranger retrieve: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stranger sees %d messages, want 1", len(msgs))
	}
}

func TestReplyThreading(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")
	orig, err := s.Append(ctx, r.ID, "alice", SendRequest{Content: "original"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	reply, err := s.Append(ctx, r.ID, "bob", SendRequest{Content: "agree", ReplyTo: orig.ID})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ReplyTo == nil || reply.ReplyTo.ID != orig.ID || reply.ReplyTo.Content != "original" || reply.ReplyTo.Sender != "alice" {
		t.Fatalf("reply snapshot wrong: %+v", reply.ReplyTo)
	}

	// snapshot is frozen at reply time; editing the original later does
	// not rewrite it
	if _, err := s.Edit(ctx, r.ID, "alice", orig.ID, "edited"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	got, err := s.loadMessage(r.ID, reply.ID)
	if err != nil {
		t.Fatalf("load reply: %v", err)
	}
	if got.ReplyTo.Content != "original" {
		t.Fatalf("snapshot rewritten: %q", got.ReplyTo.Content)
	}

	if _, err := s.Append(ctx, r.ID, "bob", SendRequest{Content: "x", ReplyTo: "msg-nope"}); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("reply to missing: got %v", err)
	}
}

func TestReplyToHiddenTarget(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")
	orig, _ := s.Append(ctx, r.ID, "alice", SendRequest{Content: "gone soon"})
	if err := s.DeleteForMe(ctx, r.ID, "bob", orig.ID); err != nil {
		t.Fatalf("delete for me: %v", err)
	}
	if _, err := s.Append(ctx, r.ID, "bob", SendRequest{Content: "x", ReplyTo: orig.ID}); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("reply to hidden: got %v", err)
	}
	// alice still can
	if _, err := s.Append(ctx, r.ID, "alice", SendRequest{Content: "x", ReplyTo: orig.ID}); err != nil {
		t.Fatalf("reply by unaffected viewer: %v", err)
	}
}

func TestRetrievePagination(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")
	var ids []string
	for i := 0; i < 7; i++ {
		m, err := s.Append(ctx, r.ID, "alice", SendRequest{Content: "m"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, m.ID)
	}

	// page 1 holds the newest three, in ascending order
	page1, err := s.Retrieve(ctx, r.ID, "bob", 1, 3)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 3 || page1[0].ID != ids[4] || page1[2].ID != ids[6] {
		t.Fatalf("page 1 wrong: %v", msgIDs(page1))
	}
	page2, err := s.Retrieve(ctx, r.ID, "bob", 2, 3)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 3 || page2[0].ID != ids[1] || page2[2].ID != ids[3] {
		t.Fatalf("page 2 wrong: %v", msgIDs(page2))
	}
	page3, err := s.Retrieve(ctx, r.ID, "bob", 3, 3)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3) != 1 || page3[0].ID != ids[0] {
		t.Fatalf("page 3 wrong: %v", msgIDs(page3))
	}
	if page4, _ := s.Retrieve(ctx, r.ID, "bob", 4, 3); len(page4) != 0 {
		t.Fatalf("page past the end not empty: %v", msgIDs(page4))
	}
}

func msgIDs(ms []models.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestRetrieveForbiddenForOutsider(t *testing.T) {
	s, g, _ := newTestService(t)
	r := makeRoom(t, g, "alice", "bob")
	if _, err := s.Retrieve(context.Background(), r.ID, "mallory", 1, 10); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("got %v, want forbidden", err)
	}
}

func TestSearch(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")
	s.Append(ctx, r.ID, "alice", SendRequest{Content: "Exam on Friday"})
	s.Append(ctx, r.ID, "bob", SendRequest{Content: "which exam?"})
	s.Append(ctx, r.ID, "alice", SendRequest{Content: "the midterm"})

	out, err := s.Search(ctx, r.ID, "bob", "EXAM")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("case-insensitive search: got %d want 2", len(out))
	}
	if out[0].Seq > out[1].Seq {
		t.Fatal("results not in log order")
	}

	if _, err := s.Search(ctx, r.ID, "bob", ""); !apperr.IsKind(err, apperr.KindValidationFailed) {
		t.Fatalf("empty term: got %v", err)
	}
}

func TestSearchSkipsDeleted(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")
	m1, _ := s.Append(ctx, r.ID, "alice", SendRequest{Content: "secret plan"})
	m2, _ := s.Append(ctx, r.ID, "alice", SendRequest{Content: "secret backup"})
	if _, err := s.DeleteForEveryone(ctx, r.ID, "alice", m1.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteForMe(ctx, r.ID, "bob", m2.ID); err != nil {
		t.Fatalf("delete for me: %v", err)
	}

	out, err := s.Search(ctx, r.ID, "bob", "secret")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("bob sees %d results, want 0", len(out))
	}
	out, err = s.Search(ctx, r.ID, "alice", "secret")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(out) != 1 || out[0].ID != m2.ID {
		t.Fatalf("alice results wrong: %v", msgIDs(out))
	}
}

func TestVersions(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r := makeRoom(t, g, "alice", "bob")
	m, _ := s.Append(ctx, r.ID, "alice", SendRequest{Content: "v1"})
	if _, err := s.Edit(ctx, r.ID, "alice", m.ID, "v2"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := s.Edit(ctx, r.ID, "alice", m.ID, "v3"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	vers, err := s.Versions(ctx, r.ID, "bob", m.ID)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(vers) != 3 {
		t.Fatalf("got %d versions, want 3", len(vers))
	}
	if vers[0].Content != "v1" || vers[1].Content != "v2" || vers[2].Content != "v3" {
		t.Fatalf("version order wrong: %v", []string{vers[0].Content, vers[1].Content, vers[2].Content})
	}
}

func TestLoadMessageWrongRoom(t *testing.T) {
	s, g, _ := newTestService(t)
	ctx := context.Background()
	r1 := makeRoom(t, g, "alice", "bob")
	r2 := makeRoom(t, g, "alice", "carol")
	m, _ := s.Append(ctx, r1.ID, "alice", SendRequest{Content: "hi"})

	// addressing a message through the wrong room resolves to nothing
	if _, err := s.Edit(ctx, r2.ID, "alice", m.ID, "x"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("got %v, want not_found", err)
	}
}
