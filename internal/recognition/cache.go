package recognition

import (
	"sync"
	"time"

	"anpr-stream/internal/domain/anpr"
)

type State int

const (
	StateAbsent State = iota
	StatePending
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "absent"
	}
}

// Entry is the recognition state of one tracked object. Entries are
// immutable; a transition stores a new entry.
type Entry struct {
	State State
	Text  string
	// Snapshot is the encoded crop that produced Text.
	Snapshot  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cache maps track ids to recognition entries. Reads and writes for
// different ids never contend.
type Cache struct {
	entries sync.Map // anpr.TrackID -> *Entry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{now: time.Now}
}

// Get returns a copy of the entry for id. ok is false when no entry exists.
func (c *Cache) Get(id anpr.TrackID) (Entry, bool) {
	v, ok := c.entries.Load(id)
	if !ok {
		return Entry{State: StateAbsent}, false
	}
	return *v.(*Entry), true
}

// MarkPending creates a Pending entry for id. It returns false, leaving the
// cache untouched, if an entry already exists.
func (c *Cache) MarkPending(id anpr.TrackID) bool {
	now := c.now()
	_, loaded := c.entries.LoadOrStore(id, &Entry{State: StatePending, CreatedAt: now, UpdatedAt: now})
	return !loaded
}

// Complete moves a Pending entry to Done. It returns false if id is not
// Pending.
func (c *Cache) Complete(id anpr.TrackID, text string, snapshot []byte) bool {
	return c.transition(id, StateDone, text, snapshot)
}

// Fail moves a Pending entry to Failed. It returns false if id is not Pending.
func (c *Cache) Fail(id anpr.TrackID) bool {
	return c.transition(id, StateFailed, "", nil)
}

func (c *Cache) transition(id anpr.TrackID, to State, text string, snapshot []byte) bool {
	v, ok := c.entries.Load(id)
	if !ok {
		return false
	}
	cur := v.(*Entry)
	if cur.State != StatePending {
		return false
	}
	next := &Entry{
		State:     to,
		Text:      text,
		Snapshot:  snapshot,
		CreatedAt: cur.CreatedAt,
		UpdatedAt: c.now(),
	}
	return c.entries.CompareAndSwap(id, cur, next)
}

// Discard removes a Pending entry whose job never reached the recognizer,
// so a later frame can enqueue the object again.
func (c *Cache) Discard(id anpr.TrackID) bool {
	v, ok := c.entries.Load(id)
	if !ok || v.(*Entry).State != StatePending {
		return false
	}
	return c.entries.CompareAndDelete(id, v)
}

// EvictFinished removes Done and Failed entries last updated before cutoff
// and returns how many were removed. Pending entries are never evicted.
func (c *Cache) EvictFinished(cutoff time.Time) int {
	removed := 0
	c.entries.Range(func(key, value any) bool {
		e := value.(*Entry)
		if e.State != StatePending && e.UpdatedAt.Before(cutoff) {
			if c.entries.CompareAndDelete(key, value) {
				removed++
			}
		}
		return true
	})
	return removed
}

func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
