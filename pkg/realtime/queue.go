package realtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"campuschat/pkg/models"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("broadcast queue full")

// Item wraps a queued event and owns a pooled ByteBuffer holding its
// payload. Consumers MUST call Done() exactly once after processing.
type Item struct {
	Type models.EventType
	Room string
	// Payload aliases the pooled buffer; valid until Done.
	Payload []byte

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// maxPooledBuffer controls the largest buffer returned to the pool.
// Larger payloads are dropped for GC instead of pinning resident memory.
const maxPooledBuffer = 256 * 1024

// Done releases pooled resources back to the pool.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) <= maxPooledBuffer {
				bytebufferpool.Put(it.buf)
			}
			it.buf = nil
		}
		it.Payload = nil
	})
}

// Queue is a bounded in-memory queue between the mutation layer and the
// hub's fan-out loop. Safe for concurrent producers; events are consumed
// in enqueue order so committed mutations reach subscribers in commit
// order per producer.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
}

// NewQueue creates a bounded Queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the consumer side of the queue.
func (q *Queue) Out() <-chan *Item { return q.ch }

// TryEnqueue copies payload into a pooled buffer and enqueues it. When
// the queue is full the event is counted as dropped and ErrQueueFull
// returned; persisted state is already committed at that point, so a
// drop degrades liveness only.
func (q *Queue) TryEnqueue(typ models.EventType, room string, payload []byte) error {
	var bb *bytebufferpool.ByteBuffer
	it := &Item{Type: typ, Room: room}
	if len(payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], payload...)
		it.Payload = bb.B[:len(payload)]
		it.buf = bb
	}
	select {
	case q.ch <- it:
		return nil
	default:
		if bb != nil {
			bytebufferpool.Put(bb)
		}
		atomic.AddUint64(&q.dropped, 1)
		droppedEvents.Inc()
		return ErrQueueFull
	}
}

// CloseAndDrain closes the queue and releases remaining items.
func (q *Queue) CloseAndDrain() {
	close(q.ch)
	for it := range q.ch {
		it.Done()
	}
}

// Len returns the current number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of events lost to a full queue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
