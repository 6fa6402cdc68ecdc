package pipeline

import (
	"sync"
	"time"

	"anpr-stream/internal/domain/anpr"
)

const (
	DefaultRecentMaxCount = 50
	DefaultRecentMaxAge   = 60 * time.Second
)

// RecentWindow holds the latest accepted plates, newest first, bounded by
// count and age.
type RecentWindow struct {
	mu       sync.Mutex
	items    []anpr.RecentPlate
	maxCount int
	maxAge   time.Duration
	now      func() time.Time
}

func NewRecentWindow(maxCount int, maxAge time.Duration) *RecentWindow {
	if maxCount <= 0 {
		maxCount = DefaultRecentMaxCount
	}
	if maxAge <= 0 {
		maxAge = DefaultRecentMaxAge
	}
	return &RecentWindow{maxCount: maxCount, maxAge: maxAge, now: time.Now}
}

// Add inserts p at the front. A previous entry for the same track and plate
// is replaced rather than duplicated. Stale and excess entries are evicted.
func (w *RecentWindow) Add(p anpr.RecentPlate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}

	next := make([]anpr.RecentPlate, 0, min(len(w.items)+1, w.maxCount))
	next = append(next, p)
	for _, item := range w.items {
		if len(next) == w.maxCount {
			break
		}
		if item.Plate == p.Plate && item.TrackID == p.TrackID {
			continue
		}
		if now.Sub(item.Timestamp) >= w.maxAge {
			continue
		}
		next = append(next, item)
	}
	w.items = next
}

// Snapshot returns a copy of the entries younger than the maximum age.
func (w *RecentWindow) Snapshot() []anpr.RecentPlate {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	out := make([]anpr.RecentPlate, 0, len(w.items))
	for _, item := range w.items {
		if now.Sub(item.Timestamp) < w.maxAge {
			out = append(out, item)
		}
	}
	return out
}

func (w *RecentWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}
