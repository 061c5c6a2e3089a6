package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"campuschat/pkg/models"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(NewQueue(64))
	go h.Run()
	t.Cleanup(h.Shutdown)
	return h
}

// recvType reads frames from the session until one of the wanted type
// arrives, skipping presence noise from concurrent attaches.
func recvType(t *testing.T, s *Session, want models.EventType) models.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-s.Send():
			var ev models.Event
			if err := json.Unmarshal(frame, &ev); err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", want)
		}
	}
}

// expectNone asserts no frame of the given type arrives within a short
// window.
func expectNone(t *testing.T, s *Session, unwanted models.EventType) {
	t.Helper()
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case frame := <-s.Send():
			var ev models.Event
			if err := json.Unmarshal(frame, &ev); err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			if ev.Type == unwanted {
				t.Fatalf("received unwanted %s event", unwanted)
			}
		case <-deadline:
			return
		}
	}
}

func TestRoomScopedFanout(t *testing.T) {
	h := newTestHub(t)
	s1 := h.Attach("alice")
	defer h.Detach(s1)
	s2 := h.Attach("bob")
	defer h.Detach(s2)
	s1.Subscribe("r1")
	s2.Subscribe("r2")

	payload, _ := json.Marshal(models.NewMessagePayload{Message: models.Message{ID: "m1", Room: "r1"}})
	h.Publish(models.Event{Type: models.EventNewMessage, Room: "r1", Payload: payload})

	ev := recvType(t, s1, models.EventNewMessage)
	if ev.Room != "r1" {
		t.Fatalf("event room: got %s", ev.Room)
	}
	var p models.NewMessagePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Message.ID != "m1" {
		t.Fatalf("payload message: %+v", p.Message)
	}

	expectNone(t, s2, models.EventNewMessage)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newTestHub(t)
	s := h.Attach("alice")
	defer h.Detach(s)
	s.Subscribe("r1")

	h.Publish(models.Event{Type: models.EventNewMessage, Room: "r1"})
	recvType(t, s, models.EventNewMessage)

	s.Unsubscribe("r1")
	h.Publish(models.Event{Type: models.EventNewMessage, Room: "r1"})
	expectNone(t, s, models.EventNewMessage)
}

func TestMultipleSessionsPerUser(t *testing.T) {
	h := newTestHub(t)
	s1 := h.Attach("alice")
	s2 := h.Attach("alice")
	s1.Subscribe("r1")
	s2.Subscribe("r1")

	h.Publish(models.Event{Type: models.EventNewMessage, Room: "r1"})
	recvType(t, s1, models.EventNewMessage)
	recvType(t, s2, models.EventNewMessage)

	// presence: online until the last session detaches
	if !h.Online("alice") {
		t.Fatal("alice should be online")
	}
	h.Detach(s1)
	if !h.Online("alice") {
		t.Fatal("alice should stay online with one session left")
	}
	h.Detach(s2)
	if h.Online("alice") {
		t.Fatal("alice should be offline")
	}
	if h.LastSeen("alice") == 0 {
		t.Fatal("lastSeen not recorded")
	}
}

func TestPresenceEvents(t *testing.T) {
	h := newTestHub(t)
	watcher := h.Attach("watcher")
	defer h.Detach(watcher)
	watcher.Subscribe("r1")

	s := h.Attach("alice")
	recvPresence(t, watcher, models.EventUserOnline, "alice")
	h.Detach(s)
	recvPresence(t, watcher, models.EventUserOffline, "alice")
}

// recvPresence waits for the presence event about a specific user,
// skipping the watcher's own presence frames.
func recvPresence(t *testing.T, s *Session, want models.EventType, user string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-s.Send():
			var ev models.Event
			if err := json.Unmarshal(frame, &ev); err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			if ev.Type != want {
				continue
			}
			var p models.PresencePayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if p.UserID == user {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event for %s within deadline", want, user)
		}
	}
}

func TestDetachIdempotent(t *testing.T) {
	h := newTestHub(t)
	s := h.Attach("alice")
	s.Subscribe("r1")
	h.Detach(s)
	h.Detach(s)
	if h.Online("alice") {
		t.Fatal("alice should be offline")
	}
}

func TestTypingRelay(t *testing.T) {
	h := newTestHub(t)
	s := h.Attach("bob")
	defer h.Detach(s)
	s.Subscribe("r1")

	h.RelayTyping("r1", "alice", "Alice", false)
	ev := recvType(t, s, models.EventUserTyping)
	var p models.TypingPayload
	_ = json.Unmarshal(ev.Payload, &p)
	if p.UserID != "alice" || p.UserName != "Alice" {
		t.Fatalf("typing payload: %+v", p)
	}

	h.RelayTyping("r1", "alice", "Alice", true)
	recvType(t, s, models.EventUserStoppedTyping)
}

func TestSlowSessionDropped(t *testing.T) {
	h := newTestHub(t)
	s := h.Attach("slowpoke")
	s.Subscribe("r1")

	// never read from the session; once its buffer fills, delivery drops
	// it instead of stalling the fan-out loop
	for i := 0; i < 200; i++ {
		h.Publish(models.Event{Type: models.EventNewMessage, Room: "r1"})
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.Online("slowpoke") {
		if time.Now().After(deadline) {
			t.Fatal("slow session never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweepPresence(t *testing.T) {
	h := newTestHub(t)
	s := h.Attach("alice")
	h.Detach(s)
	live := h.Attach("bob")
	defer h.Detach(live)

	cutoff := time.Now().Add(time.Minute).UTC().UnixNano()
	n := h.SweepPresence(cutoff)
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if h.LastSeen("alice") != 0 {
		t.Fatal("alice lastSeen survived the sweep")
	}
	// users with live sessions are never swept
	if h.LastSeen("bob") == 0 {
		t.Fatal("bob lastSeen swept while connected")
	}
}
