package utils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var idSeq uint64

// GenMsgID returns a sortable message id built from the current time and
// a process-local counter that breaks same-nanosecond ties.
func GenMsgID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}

// GenRoomID returns a new random room id.
func GenRoomID() string {
	return "room-" + uuid.NewString()
}
