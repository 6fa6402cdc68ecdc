package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"anpr-stream/internal/domain/anpr"
	"anpr-stream/internal/utils"
)

const (
	defaultHistoryLimit     = 50
	defaultBlacklistedLimit = 20
	retentionInterval       = 24 * time.Hour
)

type DetectionStore interface {
	SaveDetection(ctx context.Context, plateText string, build func(anpr.Plate) anpr.DetectionRecord) (anpr.DetectionRecord, anpr.Plate, error)
	LatestDetection(ctx context.Context) (*anpr.DetectionView, error)
	FindDetections(ctx context.Context, filter anpr.DetectionFilter) ([]anpr.DetectionView, error)
	DetectionStats(ctx context.Context, dayStart time.Time) (anpr.DetectionStats, error)
	DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type CooldownGate interface {
	ShouldAccept(id anpr.TrackID) bool
}

// SnapshotUploader stores a JPEG crop and returns its public URL.
type SnapshotUploader interface {
	UploadSnapshot(ctx context.Context, jpeg []byte) (string, error)
}

type EventPublisher interface {
	PublishDetection(event anpr.DetectionEvent) error
}

type DetectionService struct {
	store    DetectionStore
	gate     CooldownGate
	uploader SnapshotUploader
	events   EventPublisher
	log      zerolog.Logger
	now      func() time.Time
}

// NewDetectionService wires the persistence path. uploader and events are
// optional and may be nil.
func NewDetectionService(store DetectionStore, gate CooldownGate, uploader SnapshotUploader, events EventPublisher, log zerolog.Logger) *DetectionService {
	return &DetectionService{
		store:    store,
		gate:     gate,
		uploader: uploader,
		events:   events,
		log:      log.With().Str("component", "detection_service").Logger(),
		now:      time.Now,
	}
}

// Submit normalizes and validates the recognized text, applies the per-track
// cooldown and stores the detection. Rejections return ErrInvalidPlate or
// ErrCooldown and store nothing.
func (s *DetectionService) Submit(ctx context.Context, sub anpr.Submission) (*anpr.DetectionRecord, error) {
	result := utils.ValidatePlate(sub.RawText)
	if !result.Valid {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidPlate, result.Plate, result.Error)
	}

	if !s.gate.ShouldAccept(sub.TrackID) {
		return nil, fmt.Errorf("%w: track %d", ErrCooldown, sub.TrackID)
	}

	var snapshotURL *string
	if s.uploader != nil && len(sub.Snapshot) > 0 {
		url, err := s.uploader.UploadSnapshot(ctx, sub.Snapshot)
		if err != nil {
			s.log.Warn().Err(err).Str("plate", result.Plate).Msg("failed to upload plate snapshot")
		} else {
			snapshotURL = &url
		}
	}

	seenAt := sub.SeenAt
	if seenAt.IsZero() {
		seenAt = s.now()
	}

	rec, plate, err := s.store.SaveDetection(ctx, result.Plate, func(p anpr.Plate) anpr.DetectionRecord {
		return anpr.DetectionRecord{
			Confidence:    sub.Confidence,
			Timestamp:     seenAt,
			RawText:       sub.RawText,
			CropImagePath: snapshotURL,
			IsVerified:    p.HasRegistration(),
			TrackID:       sub.TrackID,
			BBox:          boxSlice(sub),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save detection: %w", err)
	}

	s.log.Info().
		Str("detection_id", rec.ID.String()).
		Str("plate", plate.PlateText).
		Int64("track_id", int64(sub.TrackID)).
		Bool("is_verified", rec.IsVerified).
		Bool("is_blacklisted", plate.IsBlacklisted).
		Msg("saved detection")

	if s.events != nil {
		event := anpr.DetectionEvent{
			DetectionID: rec.ID,
			PlateID:     plate.ID,
			Plate:       plate.PlateText,
			RawText:     rec.RawText,
			Confidence:  rec.Confidence,
			IsVerified:  rec.IsVerified,
			Blacklisted: plate.IsBlacklisted,
			TrackID:     rec.TrackID,
			Timestamp:   rec.Timestamp,
		}
		if snapshotURL != nil {
			event.SnapshotURL = *snapshotURL
		}
		if err := s.events.PublishDetection(event); err != nil {
			s.log.Warn().Err(err).Str("detection_id", rec.ID.String()).Msg("failed to publish detection event")
		}
	}

	return &rec, nil
}

func boxSlice(sub anpr.Submission) []int {
	if sub.Box.Empty() {
		return nil
	}
	return []int{sub.Box.Min.X, sub.Box.Min.Y, sub.Box.Max.X, sub.Box.Max.Y}
}

// LatestDetection returns nil when nothing has been stored yet.
func (s *DetectionService) LatestDetection(ctx context.Context) (*anpr.DetectionView, error) {
	view, err := s.store.LatestDetection(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest detection: %w", err)
	}
	return view, nil
}

// History returns the newest detections whose plate text contains search,
// case-insensitively.
func (s *DetectionService) History(ctx context.Context, limit int, search string) ([]anpr.DetectionView, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.Find(ctx, anpr.DetectionFilter{Search: search, Limit: limit})
}

func (s *DetectionService) Blacklisted(ctx context.Context, limit int) ([]anpr.DetectionView, error) {
	if limit <= 0 {
		limit = defaultBlacklistedLimit
	}
	return s.Find(ctx, anpr.DetectionFilter{BlacklistedOnly: true, Limit: limit})
}

func (s *DetectionService) Find(ctx context.Context, filter anpr.DetectionFilter) ([]anpr.DetectionView, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidInput)
	}
	views, err := s.store.FindDetections(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find detections: %w", err)
	}
	return views, nil
}

// Stats counts today's detections from local midnight.
func (s *DetectionService) Stats(ctx context.Context) (anpr.DetectionStats, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	stats, err := s.store.DetectionStats(ctx, dayStart)
	if err != nil {
		return anpr.DetectionStats{}, fmt.Errorf("failed to load detection stats: %w", err)
	}
	return stats, nil
}

// CleanupOldDetections deletes detections older than days.
func (s *DetectionService) CleanupOldDetections(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive", ErrInvalidInput)
	}
	cutoff := s.now().AddDate(0, 0, -days)
	deleted, err := s.store.DeleteDetectionsBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old detections")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old detections")
	}
	return deleted, nil
}

// RunRetention cleans up once and then daily until ctx is done. days <= 0
// disables it.
func (s *DetectionService) RunRetention(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}

	_, _ = s.CleanupOldDetections(ctx, days)

	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = s.CleanupOldDetections(ctx, days)
		}
	}
}
