package anpr

import (
	"fmt"
	"hash/fnv"
	"image"
	"time"

	"github.com/google/uuid"
)

// TrackID is the identity the tracker assigns to one physical object across
// frames. Tracker ids are positive; NoTrack means the tracker gave none.
type TrackID int64

const NoTrack TrackID = 0

// BoxKey derives a negative key from box coordinates for detections the
// tracker could not identify, so they can still be cached without colliding
// with tracker ids.
func BoxKey(box image.Rectangle) TrackID {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d_%d_%d_%d", box.Min.X, box.Min.Y, box.Max.X, box.Max.Y)
	return -TrackID(h.Sum64()>>1) - 1
}

// Detection is one box reported by the detector, optionally annotated with a
// track id by the tracker.
type Detection struct {
	Box        image.Rectangle
	ClassID    int
	ClassName  string
	Confidence float32
	TrackID    TrackID
}

func (d Detection) Area() int {
	return d.Box.Dx() * d.Box.Dy()
}

// Key is the recognition cache key for this detection.
func (d Detection) Key() TrackID {
	if d.TrackID != NoTrack {
		return d.TrackID
	}
	return BoxKey(d.Box)
}

type Plate struct {
	ID              uuid.UUID `json:"id"`
	PlateText       string    `json:"plate_text"`
	Province        *string   `json:"province,omitempty"`
	VehicleType     *string   `json:"vehicle_type,omitempty"`
	OwnerName       *string   `json:"owner_name,omitempty"`
	IsBlacklisted   bool      `json:"is_blacklisted"`
	BlacklistReason *string   `json:"blacklist_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasRegistration reports whether the plate carries owner or province
// metadata, which marks later detections of it as verified.
func (p Plate) HasRegistration() bool {
	return p.OwnerName != nil || p.Province != nil
}

type DetectionRecord struct {
	ID            uuid.UUID
	PlateID       uuid.UUID
	UserID        *uuid.UUID
	Confidence    float64
	Timestamp     time.Time
	RawText       string
	CropImagePath *string
	IsVerified    bool
	TrackID       TrackID
	BBox          []int
}

// Submission is a recognized label handed from the frame loop to persistence.
type Submission struct {
	RawText    string
	Confidence float64
	TrackID    TrackID
	Box        image.Rectangle
	// Snapshot is the JPEG-encoded crop the recognizer saw, if any.
	Snapshot []byte
	SeenAt   time.Time
}

type RecentPlate struct {
	Plate      string    `json:"plate"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	TrackID    TrackID   `json:"tracker_id,omitempty"`
}

// DetectionEvent is published to subscribers for every stored detection.
type DetectionEvent struct {
	DetectionID uuid.UUID `json:"detection_id"`
	PlateID     uuid.UUID `json:"plate_id"`
	Plate       string    `json:"plate"`
	RawText     string    `json:"raw_text"`
	Confidence  float64   `json:"confidence"`
	IsVerified  bool      `json:"is_verified"`
	Blacklisted bool      `json:"is_blacklisted"`
	TrackID     TrackID   `json:"tracker_id,omitempty"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// PlateSummary is a registered plate with its detection history folded in.
type PlateSummary struct {
	Plate
	DetectionCount int64      `json:"detection_count"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
}

// PlateUpdate carries the metadata fields to change; nil fields are left
// untouched.
type PlateUpdate struct {
	Province        *string `json:"province"`
	VehicleType     *string `json:"vehicle_type"`
	OwnerName       *string `json:"owner_name"`
	IsBlacklisted   *bool   `json:"is_blacklisted"`
	BlacklistReason *string `json:"blacklist_reason"`
}

// DetectionView is a stored detection joined with its plate.
type DetectionView struct {
	ID              uuid.UUID  `json:"id"`
	PlateID         uuid.UUID  `json:"plate_id"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	PlateText       string     `json:"plate_text"`
	Confidence      float64    `json:"confidence"`
	Timestamp       time.Time  `json:"timestamp"`
	RawText         string     `json:"raw_text"`
	CropImagePath   *string    `json:"crop_image_path,omitempty"`
	IsVerified      bool       `json:"is_verified"`
	TrackID         *int64     `json:"tracker_id,omitempty"`
	PlateProvince   *string    `json:"plate_province,omitempty"`
	PlateOwner      *string    `json:"plate_owner,omitempty"`
	IsBlacklisted   bool       `json:"is_blacklisted"`
	BlacklistReason *string    `json:"blacklist_reason,omitempty"`
}

type DetectionFilter struct {
	// Search matches plate text case-insensitively.
	Search          string
	VerifiedOnly    bool
	BlacklistedOnly bool
	From            *time.Time
	To              *time.Time
	Limit           int
}

type DetectionStats struct {
	TotalDetections       int64 `json:"total_detections"`
	VerifiedDetections    int64 `json:"verified_detections"`
	BlacklistedDetections int64 `json:"blacklisted_detections"`
	UniquePlates          int64 `json:"unique_plates"`
	TodayDetections       int64 `json:"today_detections"`
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     *string   `json:"full_name,omitempty"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}
