package store

import (
	"hash/fnv"
	"sync"
)

// Room mutations are single-room and indivisible; a fixed stripe of
// mutexes serializes read-modify-write cycles per room without holding a
// global lock across rooms.
var roomLocks [128]sync.Mutex

func stripeFor(roomID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return int(h.Sum32() % uint32(len(roomLocks)))
}

// LockRoom acquires the stripe covering roomID and returns the unlock.
func LockRoom(roomID string) func() {
	i := stripeFor(roomID)
	roomLocks[i].Lock()
	return roomLocks[i].Unlock
}

// LockRooms acquires the stripes covering both rooms in index order, so
// concurrent cross-room operations (forwarding) cannot deadlock.
func LockRooms(a, b string) func() {
	i, j := stripeFor(a), stripeFor(b)
	if i == j {
		roomLocks[i].Lock()
		return roomLocks[i].Unlock
	}
	if j < i {
		i, j = j, i
	}
	roomLocks[i].Lock()
	roomLocks[j].Lock()
	return func() {
		roomLocks[j].Unlock()
		roomLocks[i].Unlock()
	}
}
