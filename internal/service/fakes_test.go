package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"anpr-stream/internal/domain/anpr"
)

type fakeDetectionStore struct {
	mu       sync.Mutex
	plates   map[string]anpr.Plate
	records  []anpr.DetectionRecord
	views    []anpr.DetectionView
	saveErr  error
	filter   anpr.DetectionFilter
	dayStart time.Time
	cutoff   time.Time
}

func newFakeDetectionStore() *fakeDetectionStore {
	return &fakeDetectionStore{plates: map[string]anpr.Plate{}}
}

func (f *fakeDetectionStore) SaveDetection(_ context.Context, plateText string, build func(anpr.Plate) anpr.DetectionRecord) (anpr.DetectionRecord, anpr.Plate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return anpr.DetectionRecord{}, anpr.Plate{}, f.saveErr
	}
	plate, ok := f.plates[plateText]
	if !ok {
		plate = anpr.Plate{ID: uuid.New(), PlateText: plateText}
		f.plates[plateText] = plate
	}
	rec := build(plate)
	rec.ID = uuid.New()
	rec.PlateID = plate.ID
	f.records = append(f.records, rec)
	return rec, plate, nil
}

func (f *fakeDetectionStore) LatestDetection(context.Context) (*anpr.DetectionView, error) {
	if len(f.views) == 0 {
		return nil, nil
	}
	v := f.views[0]
	return &v, nil
}

func (f *fakeDetectionStore) FindDetections(_ context.Context, filter anpr.DetectionFilter) ([]anpr.DetectionView, error) {
	f.filter = filter
	return f.views, nil
}

func (f *fakeDetectionStore) DetectionStats(_ context.Context, dayStart time.Time) (anpr.DetectionStats, error) {
	f.dayStart = dayStart
	return anpr.DetectionStats{TotalDetections: int64(len(f.records))}, nil
}

func (f *fakeDetectionStore) DeleteDetectionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

func (f *fakeDetectionStore) saved() []anpr.DetectionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]anpr.DetectionRecord(nil), f.records...)
}

// fakeGate accepts each id once.
type fakeGate struct {
	mu   sync.Mutex
	seen map[anpr.TrackID]bool
}

func (g *fakeGate) ShouldAccept(id anpr.TrackID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == anpr.NoTrack {
		return true
	}
	if g.seen == nil {
		g.seen = map[anpr.TrackID]bool{}
	}
	if g.seen[id] {
		return false
	}
	g.seen[id] = true
	return true
}

type fakeUploader struct {
	uploads int
	err     error
}

func (u *fakeUploader) UploadSnapshot(_ context.Context, jpeg []byte) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.uploads++
	return "https://cdn.example.com/crops/snap.jpg", nil
}

type fakePublisher struct {
	events []anpr.DetectionEvent
}

func (p *fakePublisher) PublishDetection(event anpr.DetectionEvent) error {
	p.events = append(p.events, event)
	return nil
}

var errStore = errors.New("store unavailable")

func strPtr(s string) *string {
	return &s
}
