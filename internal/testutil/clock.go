package testutil

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JournalClock hands out increasing journal timestamps for tests.
//
// Timestamps share one wall-clock second and count up the ordinal, the
// way a busy journal stamps entries. Reset rewinds the clock so a test can
// replay the same sequence.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type JournalClock struct {
	mu      sync.Mutex
	seconds uint32
	ordinal uint32
}

// NewJournalClock creates a clock in the given second. The first call to
// Next returns {seconds, 1}.
func NewJournalClock(seconds uint32) *JournalClock {
	return &JournalClock{seconds: seconds}
}

// Next returns the next timestamp.
func (c *JournalClock) Next() primitive.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ordinal++
	return primitive.Timestamp{T: c.seconds, I: c.ordinal}
}

// Current returns the last timestamp handed out, or {seconds, 0}.
func (c *JournalClock) Current() primitive.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return primitive.Timestamp{T: c.seconds, I: c.ordinal}
}

// Reset rewinds the clock to its start.
func (c *JournalClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ordinal = 0
}
