package realtime

import (
	"encoding/json"
	"sync"

	"campuschat/pkg/logger"
	"campuschat/pkg/models"
)

// Publisher is what the mutation layer sees: one call per committed
// mutation. The hub implements it; tests may substitute a recorder.
type Publisher interface {
	Publish(ev models.Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(models.Event) {}

// Session is one connected client. A user may hold several sessions; the
// transport owns the send channel and drops the session when it blocks.
type Session struct {
	UserID string

	hub    *Hub
	send   chan []byte
	mu     sync.Mutex
	rooms  map[string]struct{}
	detach sync.Once
}

// Send returns the channel the transport writes from.
func (s *Session) Send() <-chan []byte { return s.send }

// Subscribe attaches the session to a room's fan-out set.
func (s *Session) Subscribe(roomID string) {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	s.mu.Unlock()
	s.hub.addSub(roomID, s)
}

// Unsubscribe detaches the session from a room.
func (s *Session) Unsubscribe(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
	s.hub.dropSub(roomID, s)
}

func (s *Session) subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// Hub owns per-room subscription sets and the presence registry. It is
// the only holder of connection state; nothing in the message log or
// mutation layer can reach it except through Publish.
type Hub struct {
	queue *Queue

	mu       sync.RWMutex
	byRoom   map[string]map[*Session]struct{}
	presence *Presence

	stop chan struct{}
	done chan struct{}
}

// NewHub builds a hub draining the given queue.
func NewHub(queue *Queue) *Hub {
	return &Hub{
		queue:    queue,
		byRoom:   make(map[string]map[*Session]struct{}),
		presence: newPresence(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run drains the queue and fans events out until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case it, ok := <-h.queue.Out():
			if !ok {
				return
			}
			h.fanout(it)
		case <-h.stop:
			return
		}
	}
}

// Shutdown stops the fan-out loop and waits for it to exit.
func (h *Hub) Shutdown() {
	close(h.stop)
	<-h.done
}

// Publish hands one committed-mutation event to the fan-out queue. It is
// called exactly once per commit by the mutation layer.
func (h *Hub) Publish(ev models.Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		logger.Error("event_marshal_failed", "type", ev.Type, "err", err)
		return
	}
	if err := h.queue.TryEnqueue(ev.Type, ev.Room, frame); err != nil {
		logger.Warn("event_dropped", "type", ev.Type, "room", ev.Room)
	}
	publishedEvents.WithLabelValues(string(ev.Type)).Inc()
}

func (h *Hub) fanout(it *Item) {
	defer it.Done()
	// global events (presence) go to every session
	if it.Room == "" {
		h.mu.RLock()
		seen := make(map[*Session]struct{})
		for _, subs := range h.byRoom {
			for s := range subs {
				seen[s] = struct{}{}
			}
		}
		h.mu.RUnlock()
		for s := range seen {
			h.deliver(s, it.Payload)
		}
		return
	}
	h.mu.RLock()
	subs := h.byRoom[it.Room]
	targets := make([]*Session, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		h.deliver(s, it.Payload)
	}
}

// deliver copies the frame so the pooled buffer can be reused, and drops
// slow sessions rather than blocking the fan-out loop.
func (h *Hub) deliver(s *Session, frame []byte) {
	out := append([]byte(nil), frame...)
	select {
	case s.send <- out:
	default:
		logger.Warn("session_send_blocked", "user", s.UserID)
		h.Detach(s)
	}
}

// Attach registers a new session for userID and reports presence.
func (h *Hub) Attach(userID string) *Session {
	s := &Session{
		UserID: userID,
		hub:    h,
		send:   make(chan []byte, 64),
		rooms:  make(map[string]struct{}),
	}
	if first := h.presence.connect(userID, s); first {
		h.publishPresence(models.EventUserOnline, userID)
	}
	sessionsGauge.Inc()
	return s
}

// Detach drops the session from every room and updates presence. Safe to
// call from both the transport and the fan-out loop; only the first call
// takes effect.
func (h *Hub) Detach(s *Session) {
	s.detach.Do(func() {
		for _, roomID := range s.subscribed() {
			h.dropSub(roomID, s)
		}
		if last := h.presence.disconnect(s.UserID, s); last {
			h.publishPresence(models.EventUserOffline, s.UserID)
		}
		sessionsGauge.Dec()
	})
}

func (h *Hub) publishPresence(typ models.EventType, userID string) {
	payload, _ := json.Marshal(models.PresencePayload{UserID: userID})
	h.Publish(models.Event{Type: typ, Payload: payload})
}

// RelayTyping relays an ephemeral typing signal to a room's subscribers.
// It never touches the store.
func (h *Hub) RelayTyping(roomID, userID, userName string, stopped bool) {
	typ := models.EventUserTyping
	if stopped {
		typ = models.EventUserStoppedTyping
	}
	payload, _ := json.Marshal(models.TypingPayload{UserID: userID, UserName: userName})
	h.Publish(models.Event{Type: typ, Room: roomID, Payload: payload})
}

// Online reports whether userID has at least one live session.
func (h *Hub) Online(userID string) bool { return h.presence.online(userID) }

// LastSeen returns the last observed activity instant (ns) for userID,
// zero when never seen.
func (h *Hub) LastSeen(userID string) int64 { return h.presence.lastSeenTS(userID) }

// SweepPresence drops lastSeen records older than cutoff for users with
// no live sessions. Called by the sweeper only.
func (h *Hub) SweepPresence(cutoff int64) int { return h.presence.sweep(cutoff) }

// Dropped reports how many events the broadcast queue has discarded.
func (h *Hub) Dropped() uint64 { return h.queue.Dropped() }

func (h *Hub) addSub(roomID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.byRoom[roomID]
	if subs == nil {
		subs = make(map[*Session]struct{})
		h.byRoom[roomID] = subs
	}
	subs[s] = struct{}{}
}

func (h *Hub) dropSub(roomID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.byRoom[roomID]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.byRoom, roomID)
		}
	}
}
