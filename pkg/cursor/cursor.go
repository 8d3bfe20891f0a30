// Package cursor tracks per-source polling state for the lifetime of one
// process: when each source was last polled, whether a poll is in flight, and
// the content hash of the last staged batch. Nothing here is persisted; after a
// restart the worst case is one redundant poll.
package cursor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SkipReason explains why TryBeginPoll refused to start a poll.
type SkipReason string

const (
	// SkipNone means the poll may start.
	SkipNone SkipReason = ""
	// SkipInFlight means the previous poll of the source has not finished.
	SkipInFlight SkipReason = "in_flight"
	// SkipInterval means the polling interval has not elapsed.
	SkipInterval SkipReason = "interval"
)

// Entry is the state of one source instance.
type Entry struct {
	Polling             bool      `json:"polling"`
	LastPollAt          time.Time `json:"last_poll_at"`
	LastSuccessAt       time.Time `json:"last_success_at"`
	LastHash            string    `json:"last_hash,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

type slot struct {
	mu    sync.Mutex
	entry Entry
}

// Cursor is a map of source instance id to Entry with a lock per key.
type Cursor struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

// New creates an empty cursor.
func New() *Cursor {
	return &Cursor{slots: make(map[uuid.UUID]*slot)}
}

func (c *Cursor) slot(id uuid.UUID) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		s = &slot{}
		c.slots[id] = s
	}
	return s
}

// TryBeginPoll moves the source to Polling when it is idle and at least
// interval has passed since its previous poll started.
func (c *Cursor) TryBeginPoll(id uuid.UUID, now time.Time, interval time.Duration) (bool, SkipReason) {
	s := c.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry.Polling {
		return false, SkipInFlight
	}
	if interval > 0 && !s.entry.LastPollAt.IsZero() && now.Sub(s.entry.LastPollAt) < interval {
		return false, SkipInterval
	}
	s.entry.Polling = true
	s.entry.LastPollAt = now
	return true, SkipNone
}

// BeginPoll is TryBeginPoll without the interval guard.
func (c *Cursor) BeginPoll(id uuid.UUID, now time.Time) (bool, SkipReason) {
	return c.TryBeginPoll(id, now, 0)
}

// EndPoll returns the source to Idle.
func (c *Cursor) EndPoll(id uuid.UUID, now time.Time, succeeded bool) {
	s := c.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry.Polling = false
	if succeeded {
		s.entry.LastSuccessAt = now
		s.entry.ConsecutiveFailures = 0
	} else {
		s.entry.ConsecutiveFailures++
	}
}

// LastHash returns the hash of the last batch staged for the source.
func (c *Cursor) LastHash(id uuid.UUID) string {
	s := c.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry.LastHash
}

// Do runs fn while holding the source's lock. Changes fn makes to the entry
// are kept. Callers use it to compare and record content hashes atomically
// around a write.
func (c *Cursor) Do(id uuid.UUID, fn func(e *Entry) error) error {
	s := c.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.entry)
}

// Get returns a copy of the source's entry.
func (c *Cursor) Get(id uuid.UUID) Entry {
	s := c.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

// Snapshot copies every entry for diagnostics.
func (c *Cursor) Snapshot() map[uuid.UUID]Entry {
	c.mu.Lock()
	ids := make([]uuid.UUID, 0, len(c.slots))
	for id := range c.slots {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	out := make(map[uuid.UUID]Entry, len(ids))
	for _, id := range ids {
		out[id] = c.Get(id)
	}
	return out
}
