package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var lastTimestamp int64

// Now returns a wall-clock time that is strictly greater than every value
// previously returned in this process.
func Now() time.Time {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return time.Unix(0, now).UTC()
		}
	}
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}
