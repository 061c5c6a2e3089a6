// Package client implements the consumer-side reconciliation outbox: the
// piece of state a connected client keeps for its own optimistic sends
// until the server acknowledges them or the broadcast echo arrives.
package client

import (
	"sync"
	"time"

	"campuschat/pkg/models"
)

// Status of a pending outbox entry.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Entry is one locally-originated message awaiting reconciliation. While
// Status is sending, Message holds the optimistic local rendering; once
// sent it holds the server-committed entity.
type Entry struct {
	TempID   string         `json:"temp_id"`
	Status   Status         `json:"status"`
	Message  models.Message `json:"message"`
	QueuedTS int64          `json:"queued_ts"`
}

// Outbox tracks optimistic sends keyed by client-generated temp id.
// Reconciliation is an atomic swap: the temp entry is replaced by the
// committed message in one step, so a reader never observes both or
// neither. Failed entries stay until discarded; retry is a fresh send.
type Outbox struct {
	mu      sync.Mutex
	pending map[string]*Entry
}

// NewOutbox returns an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{pending: make(map[string]*Entry)}
}

// Stage records an optimistic send under tempID and returns the entry in
// sending status. Staging the same temp id twice overwrites the first;
// temp ids are client-generated and expected unique per session.
func (o *Outbox) Stage(tempID string, optimistic models.Message) *Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := &Entry{
		TempID:   tempID,
		Status:   StatusSending,
		Message:  optimistic,
		QueuedTS: time.Now().UTC().UnixNano(),
	}
	o.pending[tempID] = e
	return e
}

// Ack reconciles tempID against the server-committed message, swapping
// the optimistic entry for the committed one and marking it sent. It
// reports false when no entry with that temp id is pending (already
// reconciled, or discarded before the ack arrived).
func (o *Outbox) Ack(tempID string, committed models.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.pending[tempID]
	if !ok || e.Status == StatusSent {
		return false
	}
	e.Status = StatusSent
	e.Message = committed
	return true
}

// ReconcileEcho matches a broadcast message against pending sends by the
// sender's own identity and content, covering the case where the echo
// arrives before (or instead of) the direct acknowledgment. With several
// identical sends pending, the oldest-staged one is reconciled first,
// mirroring the order the server committed them. Returns the reconciled
// temp id, or empty when the echo matched nothing.
func (o *Outbox) ReconcileEcho(selfUserID string, echoed models.Message) string {
	if echoed.Sender != selfUserID {
		return ""
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	var match *Entry
	matchID := ""
	for tempID, e := range o.pending {
		if e.Status != StatusSending {
			continue
		}
		if e.Message.Room != echoed.Room || e.Message.Content != echoed.Content || e.Message.Type != echoed.Type {
			continue
		}
		if match == nil || e.QueuedTS < match.QueuedTS {
			match = e
			matchID = tempID
		}
	}
	if match == nil {
		return ""
	}
	match.Status = StatusSent
	match.Message = echoed
	return matchID
}

// Fail marks a pending send as failed. Failed entries are never retried
// automatically; the caller stages a new send instead.
func (o *Outbox) Fail(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.pending[tempID]
	if !ok || e.Status == StatusSent {
		return false
	}
	e.Status = StatusFailed
	return true
}

// Discard drops an entry. Discarding a still-sending entry is the
// cancellation path: a late ack for it then reconciles nothing.
func (o *Outbox) Discard(tempID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, tempID)
}

// Get returns a copy of the entry for tempID.
func (o *Outbox) Get(tempID string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.pending[tempID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Pending returns copies of all entries still in sending status, oldest
// first.
func (o *Outbox) Pending() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Entry
	for _, e := range o.pending {
		if e.Status == StatusSending {
			out = append(out, *e)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].QueuedTS < out[j-1].QueuedTS; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Len reports the number of tracked entries in any status.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
