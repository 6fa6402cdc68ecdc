package vision

import (
	"image"
	"sort"

	"anpr-stream/internal/domain/anpr"
)

const (
	DefaultIOUThreshold = 0.3
	DefaultTrackMaxAge  = 30
)

type track struct {
	id      anpr.TrackID
	box     image.Rectangle
	classID int
	missed  int
}

// IOUTracker keeps object identity across detector runs by greedily matching
// each new box to the existing track it overlaps most. Ids start at 1 and are
// never reused. It is not safe for concurrent use.
type IOUTracker struct {
	tracks    []track
	nextID    anpr.TrackID
	threshold float64
	maxAge    int
}

func NewIOUTracker(threshold float64, maxAge int) *IOUTracker {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultIOUThreshold
	}
	if maxAge <= 0 {
		maxAge = DefaultTrackMaxAge
	}
	return &IOUTracker{nextID: 1, threshold: threshold, maxAge: maxAge}
}

type candidate struct {
	track, det int
	iou        float64
}

// Update assigns a TrackID to every detection and returns them in input
// order. Tracks unmatched for more than maxAge updates are forgotten.
func (t *IOUTracker) Update(dets []anpr.Detection) []anpr.Detection {
	out := make([]anpr.Detection, len(dets))
	copy(out, dets)

	var pairs []candidate
	for ti, tr := range t.tracks {
		for di, det := range out {
			if det.ClassID != tr.classID {
				continue
			}
			if iou := IoU(tr.box, det.Box); iou >= t.threshold {
				pairs = append(pairs, candidate{track: ti, det: di, iou: iou})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].iou > pairs[j].iou })

	trackUsed := make([]bool, len(t.tracks))
	detUsed := make([]bool, len(out))
	for _, p := range pairs {
		if trackUsed[p.track] || detUsed[p.det] {
			continue
		}
		trackUsed[p.track], detUsed[p.det] = true, true
		t.tracks[p.track].box = out[p.det].Box
		t.tracks[p.track].missed = 0
		out[p.det].TrackID = t.tracks[p.track].id
	}

	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if !trackUsed[i] {
			tr.missed++
			if tr.missed > t.maxAge {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	for i := range out {
		if detUsed[i] {
			continue
		}
		id := t.nextID
		t.nextID++
		out[i].TrackID = id
		t.tracks = append(t.tracks, track{id: id, box: out[i].Box, classID: out[i].ClassID})
	}
	return out
}

// Len returns the number of live tracks.
func (t *IOUTracker) Len() int {
	return len(t.tracks)
}

// IoU returns the intersection over union of a and b.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
