package store

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"campuschat/pkg/logger"
)

var db *pebble.DB
var dbPath string

// ErrNotFound is returned when a key does not resolve.
var ErrNotFound = errors.New("store: not found")

// verSeq breaks ties when multiple versions of a message are archived in
// the same nanosecond.
var verSeq uint64

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "err", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpen() error { return fmt.Errorf("pebble not opened; call store.Open first") }

// Key layout. Messages live under their room's prefix keyed by zero-padded
// sequence number so iteration order equals append order.
func roomMetaKey(roomID string) []byte { return []byte("room:" + roomID + ":meta") }
func msgPrefix(roomID string) []byte   { return []byte("room:" + roomID + ":msg:") }
func msgKey(roomID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("room:%s:msg:%020d", roomID, seq))
}
func msgIdxKey(msgID string) []byte { return []byte("msgidx:" + msgID) }
func seqKey(roomID string) []byte   { return []byte("room:" + roomID + ":seq") }

func get(key []byte) ([]byte, error) {
	v, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

// SaveRoom stores room metadata under its reserved key.
func SaveRoom(roomID string, data []byte) error {
	if db == nil {
		return notOpen()
	}
	if err := db.Set(roomMetaKey(roomID), data, pebble.Sync); err != nil {
		logger.Error("save_room_failed", "room", roomID, "err", err)
		return err
	}
	return nil
}

// GetRoom returns the stored room metadata JSON for a given room ID.
func GetRoom(roomID string) ([]byte, error) {
	if db == nil {
		return nil, notOpen()
	}
	return get(roomMetaKey(roomID))
}

// directPairKey builds the sorted-pair index key for a direct room, so
// both orderings of (a, b) resolve to the same entry.
func directPairKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte("direct:" + a + "|" + b)
}

// SaveDirectRoom records the room id serving the unordered pair (a, b).
func SaveDirectRoom(a, b, roomID string) error {
	if db == nil {
		return notOpen()
	}
	return db.Set(directPairKey(a, b), []byte(roomID), pebble.Sync)
}

// LookupDirectRoom returns the id of the direct room for (a, b), or
// ErrNotFound when the pair has never chatted.
func LookupDirectRoom(a, b string) (string, error) {
	if db == nil {
		return "", notOpen()
	}
	v, err := get(directPairKey(a, b))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// AddMembership records roomID in userID's room index.
func AddMembership(userID, roomID string) error {
	if db == nil {
		return notOpen()
	}
	return db.Set([]byte("user:"+userID+":room:"+roomID), []byte{1}, pebble.Sync)
}

// RemoveMembership drops roomID from userID's room index. The room's own
// participant list is the source of truth; this index only serves listing.
func RemoveMembership(userID, roomID string) error {
	if db == nil {
		return notOpen()
	}
	return db.Delete([]byte("user:"+userID+":room:"+roomID), pebble.Sync)
}

// ListMemberships returns the ids of all rooms userID belongs to.
func ListMemberships(userID string) ([]string, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte("user:" + userID + ":room:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, strings.TrimPrefix(string(iter.Key()), string(prefix)))
	}
	return out, iter.Error()
}

// AppendMessage commits a new log entry at the given sequence and indexes
// it by message id. The sequence cursor is persisted in the same batch so
// a restart never reuses a position.
func AppendMessage(roomID string, seq uint64, msgID string, data []byte) error {
	if db == nil {
		return notOpen()
	}
	b := db.NewBatch()
	if err := b.Set(msgKey(roomID, seq), data, nil); err != nil {
		return err
	}
	if err := b.Set(msgIdxKey(msgID), msgKey(roomID, seq), nil); err != nil {
		return err
	}
	if err := b.Set(seqKey(roomID), []byte(fmt.Sprintf("%d", seq)), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("append_message_failed", "room", roomID, "seq", seq, "err", err)
		return err
	}
	appendsTotal.Inc()
	logger.Debug("message_appended", "room", roomID, "seq", seq, "msg_id", msgID)
	return nil
}

// UpdateMessage rewrites a committed entry in place, archiving the prior
// value in the version trail. Log order is untouched.
func UpdateMessage(roomID string, seq uint64, msgID string, prev, data []byte) error {
	if db == nil {
		return notOpen()
	}
	b := db.NewBatch()
	if len(prev) > 0 {
		if err := b.Set(versionKey(msgID), prev, nil); err != nil {
			return err
		}
	}
	if err := b.Set(msgKey(roomID, seq), data, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("update_message_failed", "room", roomID, "seq", seq, "err", err)
		return err
	}
	mutationsTotal.Inc()
	return nil
}

func versionKey(msgID string) []byte {
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&verSeq, 1)
	return []byte(fmt.Sprintf("version:msg:%s:%020d-%06d", msgID, ts, s))
}

// GetMessage resolves a message id to its current log entry.
func GetMessage(msgID string) ([]byte, error) {
	if db == nil {
		return nil, notOpen()
	}
	key, err := get(msgIdxKey(msgID))
	if err != nil {
		return nil, err
	}
	return get(key)
}

// ListMessages walks a room's log in append order. The callback may
// return false to stop early.
func ListMessages(roomID string, fn func(data []byte) bool) error {
	if db == nil {
		return notOpen()
	}
	prefix := msgPrefix(roomID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		v := append([]byte(nil), iter.Value()...)
		if !fn(v) {
			break
		}
	}
	return iter.Error()
}

// ListMessagesReverse walks a room's log newest-first. The callback may
// return false to stop early; pagination windows are built this way.
func ListMessagesReverse(roomID string, fn func(data []byte) bool) error {
	if db == nil {
		return notOpen()
	}
	prefix := msgPrefix(roomID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.Last(); iter.Valid(); iter.Prev() {
		v := append([]byte(nil), iter.Value()...)
		if !fn(v) {
			break
		}
	}
	return iter.Error()
}

// LastSeq returns the highest sequence committed to a room's log, zero
// for an empty log.
func LastSeq(roomID string) (uint64, error) {
	if db == nil {
		return 0, notOpen()
	}
	v, err := get(seqKey(roomID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(v), "%d", &seq); err != nil {
		return 0, fmt.Errorf("corrupt seq for room %s: %w", roomID, err)
	}
	return seq, nil
}

// ListMessageVersions returns archived prior values for a message id in
// chronological order.
func ListMessageVersions(msgID string) ([][]byte, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte("version:msg:" + msgID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	return out, iter.Error()
}

// PruneVersionsBefore removes version-trail entries older than cutoff
// (ns). Used by the sweeper only; the message log itself is never pruned.
func PruneVersionsBefore(cutoff int64) (int, error) {
	if db == nil {
		return 0, notOpen()
	}
	prefix := []byte("version:msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var doomed [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		// key tail is <ts %020d>-<seq>; compare the timestamp segment
		tail := k[bytes.LastIndexByte(k, ':')+1:]
		var ts int64
		if _, err := fmt.Sscanf(string(tail[:20]), "%d", &ts); err != nil {
			continue
		}
		if ts < cutoff {
			doomed = append(doomed, append([]byte(nil), k...))
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	for _, k := range doomed {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}
