package pipeline

import (
	"fmt"
	"testing"
	"time"

	"anpr-stream/internal/domain/anpr"
)

func newTestWindow(count int, age time.Duration) (*RecentWindow, *time.Time) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	w := NewRecentWindow(count, age)
	w.now = func() time.Time { return now }
	return w, &now
}

func TestRecentWindowNewestFirst(t *testing.T) {
	w, now := newTestWindow(10, time.Minute)

	w.Add(anpr.RecentPlate{Plate: "12-G5000.50", TrackID: 1})
	*now = now.Add(time.Second)
	w.Add(anpr.RecentPlate{Plate: "30-AB1234.50", TrackID: 2})

	got := w.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Plate != "30-AB1234.50" || got[1].Plate != "12-G5000.50" {
		t.Errorf("order = %s, %s", got[0].Plate, got[1].Plate)
	}
}

func TestRecentWindowCountBound(t *testing.T) {
	w, now := newTestWindow(5, time.Hour)

	for i := 0; i < 20; i++ {
		*now = now.Add(time.Second)
		w.Add(anpr.RecentPlate{Plate: fmt.Sprintf("12-G%04d.50", i), TrackID: anpr.TrackID(i + 1)})
		if w.Len() > 5 {
			t.Fatalf("Len() = %d after %d inserts, exceeds bound", w.Len(), i+1)
		}
	}
	if got := w.Snapshot()[0].Plate; got != "12-G0019.50" {
		t.Errorf("newest = %s, want 12-G0019.50", got)
	}
}

func TestRecentWindowAgeBound(t *testing.T) {
	w, now := newTestWindow(50, 60*time.Second)

	w.Add(anpr.RecentPlate{Plate: "12-G5000.50", TrackID: 1})
	*now = now.Add(30 * time.Second)
	w.Add(anpr.RecentPlate{Plate: "30-AB1234.50", TrackID: 2})
	*now = now.Add(31 * time.Second)

	got := w.Snapshot()
	if len(got) != 1 || got[0].Plate != "30-AB1234.50" {
		t.Errorf("Snapshot() = %+v, want only the younger plate", got)
	}

	w.Add(anpr.RecentPlate{Plate: "51-H1234.56", TrackID: 3})
	if w.Len() != 2 {
		t.Errorf("Len() after insert = %d, stale entry not evicted", w.Len())
	}
}

func TestRecentWindowReplacesSameTrack(t *testing.T) {
	w, now := newTestWindow(50, time.Minute)

	w.Add(anpr.RecentPlate{Plate: "12-G5000.50", TrackID: 1, Confidence: 0.7})
	*now = now.Add(time.Second)
	w.Add(anpr.RecentPlate{Plate: "30-AB1234.50", TrackID: 2})
	*now = now.Add(time.Second)
	w.Add(anpr.RecentPlate{Plate: "12-G5000.50", TrackID: 1, Confidence: 0.9})

	got := w.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].TrackID != 1 || got[0].Confidence != 0.9 {
		t.Errorf("front = %+v, want refreshed track 1", got[0])
	}
}
