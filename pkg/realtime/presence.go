package realtime

import (
	"sync"
	"time"
)

// Presence is the connection-scoped registry of who is online. It is
// owned by the hub and reachable from nowhere else; online state is never
// persisted.
type Presence struct {
	mu       sync.Mutex
	conns    map[string]map[*Session]struct{}
	lastSeen map[string]int64
}

func newPresence() *Presence {
	return &Presence{
		conns:    make(map[string]map[*Session]struct{}),
		lastSeen: make(map[string]int64),
	}
}

// connect records a session and reports whether it is the user's first.
func (p *Presence) connect(userID string, s *Session) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.conns[userID]
	if set == nil {
		set = make(map[*Session]struct{})
		p.conns[userID] = set
	}
	first = len(set) == 0
	set[s] = struct{}{}
	p.lastSeen[userID] = time.Now().UTC().UnixNano()
	return first
}

// disconnect removes a session and reports whether it was the user's
// last. Idempotent: a session already removed reports false.
func (p *Presence) disconnect(userID string, s *Session) (last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.conns[userID]
	if set == nil {
		return false
	}
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	p.lastSeen[userID] = time.Now().UTC().UnixNano()
	if len(set) == 0 {
		delete(p.conns, userID)
		return true
	}
	return false
}

func (p *Presence) online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns[userID]) > 0
}

func (p *Presence) lastSeenTS(userID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen[userID]
}

// sweep drops lastSeen records older than cutoff for users with no live
// sessions, returning the number removed.
func (p *Presence) sweep(cutoff int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for userID, ts := range p.lastSeen {
		if ts < cutoff && len(p.conns[userID]) == 0 {
			delete(p.lastSeen, userID)
			n++
		}
	}
	return n
}
