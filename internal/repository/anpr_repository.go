package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"anpr-stream/internal/domain/anpr"
)

const maxDetectionLimit = 500

type ANPRRepository struct {
	db *gorm.DB
}

func NewANPRRepository(db *gorm.DB) *ANPRRepository {
	return &ANPRRepository{db: db}
}

func (Plate) TableName() string {
	return "plates"
}

func (Detection) TableName() string {
	return "detections"
}

type Plate struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	PlateText       string    `gorm:"size:20;not null;uniqueIndex"`
	Province        *string   `gorm:"size:50"`
	VehicleType     *string   `gorm:"size:30"`
	OwnerName       *string   `gorm:"size:100"`
	IsBlacklisted   bool      `gorm:"not null;default:false"`
	BlacklistReason *string
	CreatedAt       time.Time
}

type Detection struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	PlateID       uuid.UUID  `gorm:"type:uuid;not null;index"`
	UserID        *uuid.UUID `gorm:"type:uuid"`
	Confidence    float64    `gorm:"not null"`
	Timestamp     time.Time  `gorm:"not null;index"`
	RawText       string     `gorm:"size:50"`
	CropImagePath *string
	IsVerified    bool `gorm:"not null;default:false"`
	TrackerID     *int64
	BBox          datatypes.JSON `gorm:"column:bbox"`
}

// detectionRow is a detection joined with the plate columns it is shown with.
type detectionRow struct {
	Detection
	PlateText       string
	PlateProvince   *string
	PlateOwner      *string
	IsBlacklisted   bool
	BlacklistReason *string
}

const detectionColumns = "detections.*, plates.plate_text, plates.province AS plate_province, " +
	"plates.owner_name AS plate_owner, plates.is_blacklisted, plates.blacklist_reason"

func (p Plate) toDomain() anpr.Plate {
	return anpr.Plate{
		ID:              p.ID,
		PlateText:       p.PlateText,
		Province:        p.Province,
		VehicleType:     p.VehicleType,
		OwnerName:       p.OwnerName,
		IsBlacklisted:   p.IsBlacklisted,
		BlacklistReason: p.BlacklistReason,
		CreatedAt:       p.CreatedAt,
	}
}

func (r detectionRow) toDomain() anpr.DetectionView {
	return anpr.DetectionView{
		ID:              r.ID,
		PlateID:         r.PlateID,
		UserID:          r.UserID,
		PlateText:       r.PlateText,
		Confidence:      r.Confidence,
		Timestamp:       r.Timestamp,
		RawText:         r.RawText,
		CropImagePath:   r.CropImagePath,
		IsVerified:      r.IsVerified,
		TrackID:         r.TrackerID,
		PlateProvince:   r.PlateProvince,
		PlateOwner:      r.PlateOwner,
		IsBlacklisted:   r.IsBlacklisted,
		BlacklistReason: r.BlacklistReason,
	}
}

// SaveDetection resolves or creates the plate for plateText and appends the
// detection built from it, in one transaction. build sees the plate as it was
// before this detection.
func (r *ANPRRepository) SaveDetection(ctx context.Context, plateText string, build func(anpr.Plate) anpr.DetectionRecord) (anpr.DetectionRecord, anpr.Plate, error) {
	var (
		rec   anpr.DetectionRecord
		plate anpr.Plate
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := findOrCreatePlate(tx, plateText)
		if err != nil {
			return err
		}
		plate = p.toDomain()

		rec = build(plate)
		rec.PlateID = p.ID
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now()
		}

		row := Detection{
			ID:            rec.ID,
			PlateID:       rec.PlateID,
			UserID:        rec.UserID,
			Confidence:    rec.Confidence,
			Timestamp:     rec.Timestamp,
			RawText:       truncate(rec.RawText, 50),
			CropImagePath: rec.CropImagePath,
			IsVerified:    rec.IsVerified,
		}
		if rec.TrackID > 0 {
			id := int64(rec.TrackID)
			row.TrackerID = &id
		}
		if len(rec.BBox) > 0 {
			raw, err := json.Marshal(rec.BBox)
			if err != nil {
				return fmt.Errorf("marshal bbox: %w", err)
			}
			row.BBox = datatypes.JSON(raw)
		}

		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create detection: %w", err)
		}
		return nil
	})
	if err != nil {
		return anpr.DetectionRecord{}, anpr.Plate{}, err
	}
	return rec, plate, nil
}

func findOrCreatePlate(tx *gorm.DB, plateText string) (Plate, error) {
	var plate Plate
	err := tx.Where("plate_text = ?", plateText).First(&plate).Error
	if err == nil {
		return plate, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Plate{}, fmt.Errorf("failed to find plate: %w", err)
	}

	plate = Plate{
		ID:        uuid.New(),
		PlateText: plateText,
		CreatedAt: time.Now(),
	}
	// A concurrent submission may have created the same plate.
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plate_text"}},
		DoNothing: true,
	}).Create(&plate).Error
	if err != nil {
		return Plate{}, fmt.Errorf("failed to create plate: %w", err)
	}
	if err := tx.Where("plate_text = ?", plateText).First(&plate).Error; err != nil {
		return Plate{}, fmt.Errorf("failed to reload plate: %w", err)
	}
	return plate, nil
}

func (r *ANPRRepository) detectionQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("detections").
		Select(detectionColumns).
		Joins("JOIN plates ON plates.id = detections.plate_id")
}

// LatestDetection returns nil when nothing has been stored yet.
func (r *ANPRRepository) LatestDetection(ctx context.Context) (*anpr.DetectionView, error) {
	var rows []detectionRow
	err := r.detectionQuery(ctx).
		Order("detections.timestamp DESC").
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	view := rows[0].toDomain()
	return &view, nil
}

func (r *ANPRRepository) FindDetections(ctx context.Context, filter anpr.DetectionFilter) ([]anpr.DetectionView, error) {
	query := r.detectionQuery(ctx)

	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("UPPER(plates.plate_text) LIKE ?", "%"+strings.ToUpper(search)+"%")
	}
	if filter.VerifiedOnly {
		query = query.Where("detections.is_verified = ?", true)
	}
	if filter.BlacklistedOnly {
		query = query.Where("plates.is_blacklisted = ?", true)
	}
	if filter.From != nil {
		query = query.Where("detections.timestamp >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("detections.timestamp <= ?", *filter.To)
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxDetectionLimit {
		limit = maxDetectionLimit
	}

	var rows []detectionRow
	if err := query.Order("detections.timestamp DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, err
	}

	views := make([]anpr.DetectionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, row.toDomain())
	}
	return views, nil
}

// DetectionStats counts detections; today counts those at or after dayStart.
func (r *ANPRRepository) DetectionStats(ctx context.Context, dayStart time.Time) (anpr.DetectionStats, error) {
	var stats anpr.DetectionStats
	db := r.db.WithContext(ctx)

	if err := db.Model(&Detection{}).Count(&stats.TotalDetections).Error; err != nil {
		return stats, fmt.Errorf("count detections: %w", err)
	}
	if err := db.Model(&Detection{}).Where("is_verified = ?", true).Count(&stats.VerifiedDetections).Error; err != nil {
		return stats, fmt.Errorf("count verified detections: %w", err)
	}
	err := db.Model(&Detection{}).
		Joins("JOIN plates ON plates.id = detections.plate_id").
		Where("plates.is_blacklisted = ?", true).
		Count(&stats.BlacklistedDetections).Error
	if err != nil {
		return stats, fmt.Errorf("count blacklisted detections: %w", err)
	}
	if err := db.Model(&Plate{}).Count(&stats.UniquePlates).Error; err != nil {
		return stats, fmt.Errorf("count plates: %w", err)
	}
	if err := db.Model(&Detection{}).Where("detections.timestamp >= ?", dayStart).Count(&stats.TodayDetections).Error; err != nil {
		return stats, fmt.Errorf("count today detections: %w", err)
	}
	return stats, nil
}

// DeleteDetectionsBefore removes detections older than cutoff.
func (r *ANPRRepository) DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("detections.timestamp < ?", cutoff).
		Delete(&Detection{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
