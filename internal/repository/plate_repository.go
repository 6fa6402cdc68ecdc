package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"anpr-stream/internal/domain/anpr"
)

// ListPlates returns every registered plate with its detection count and
// last sighting, newest plate first.
func (r *ANPRRepository) ListPlates(ctx context.Context) ([]anpr.PlateSummary, error) {
	var plates []Plate
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&plates).Error; err != nil {
		return nil, err
	}

	type plateCount struct {
		PlateID uuid.UUID
		Count   int64
	}
	var counts []plateCount
	err := r.db.WithContext(ctx).
		Model(&Detection{}).
		Select("plate_id, COUNT(*) AS count").
		Group("plate_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("count detections per plate: %w", err)
	}
	byPlate := make(map[uuid.UUID]int64, len(counts))
	for _, c := range counts {
		byPlate[c.PlateID] = c.Count
	}

	result := make([]anpr.PlateSummary, 0, len(plates))
	for _, p := range plates {
		summary := anpr.PlateSummary{Plate: p.toDomain(), DetectionCount: byPlate[p.ID]}
		if summary.DetectionCount > 0 {
			summary.LastSeen, _ = r.lastSeen(ctx, p.ID)
		}
		result = append(result, summary)
	}
	return result, nil
}

func (r *ANPRRepository) lastSeen(ctx context.Context, plateID uuid.UUID) (*time.Time, error) {
	var detection Detection
	err := r.db.WithContext(ctx).
		Where("plate_id = ?", plateID).
		Order("detections.timestamp DESC").
		First(&detection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &detection.Timestamp, nil
}

// GetPlateByText returns nil when no plate has that text.
func (r *ANPRRepository) GetPlateByText(ctx context.Context, plateText string) (*anpr.Plate, error) {
	var plate Plate
	err := r.db.WithContext(ctx).Where("plate_text = ?", plateText).First(&plate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := plate.toDomain()
	return &p, nil
}

func (r *ANPRRepository) CreatePlate(ctx context.Context, plate *anpr.Plate) error {
	if plate.ID == uuid.Nil {
		plate.ID = uuid.New()
	}
	if plate.CreatedAt.IsZero() {
		plate.CreatedAt = time.Now()
	}
	row := Plate{
		ID:              plate.ID,
		PlateText:       plate.PlateText,
		Province:        plate.Province,
		VehicleType:     plate.VehicleType,
		OwnerName:       plate.OwnerName,
		IsBlacklisted:   plate.IsBlacklisted,
		BlacklistReason: plate.BlacklistReason,
		CreatedAt:       plate.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create plate: %w", err)
	}
	return nil
}

// UpdatePlate applies the non-nil fields of upd. It returns nil when the
// plate does not exist.
func (r *ANPRRepository) UpdatePlate(ctx context.Context, id uuid.UUID, upd anpr.PlateUpdate) (*anpr.Plate, error) {
	var plate Plate
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&plate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	changes := map[string]interface{}{}
	if upd.Province != nil {
		changes["province"] = *upd.Province
	}
	if upd.VehicleType != nil {
		changes["vehicle_type"] = *upd.VehicleType
	}
	if upd.OwnerName != nil {
		changes["owner_name"] = *upd.OwnerName
	}
	if upd.IsBlacklisted != nil {
		changes["is_blacklisted"] = *upd.IsBlacklisted
	}
	if upd.BlacklistReason != nil {
		changes["blacklist_reason"] = *upd.BlacklistReason
	}

	if len(changes) > 0 {
		if err := r.db.WithContext(ctx).Model(&plate).Updates(changes).Error; err != nil {
			return nil, fmt.Errorf("failed to update plate: %w", err)
		}
		if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plate).Error; err != nil {
			return nil, err
		}
	}

	p := plate.toDomain()
	return &p, nil
}

// DeletePlate removes the plate and its detections. It reports false when
// the plate does not exist.
func (r *ANPRRepository) DeletePlate(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("plate_id = ?", id).Delete(&Detection{}).Error; err != nil {
			return fmt.Errorf("delete plate detections: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&Plate{})
		if result.Error != nil {
			return fmt.Errorf("delete plate: %w", result.Error)
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	return deleted, err
}
