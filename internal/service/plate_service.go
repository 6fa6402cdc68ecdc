package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-stream/internal/domain/anpr"
	"anpr-stream/internal/utils"
)

type PlateStore interface {
	ListPlates(ctx context.Context) ([]anpr.PlateSummary, error)
	GetPlateByText(ctx context.Context, plateText string) (*anpr.Plate, error)
	CreatePlate(ctx context.Context, plate *anpr.Plate) error
	UpdatePlate(ctx context.Context, id uuid.UUID, upd anpr.PlateUpdate) (*anpr.Plate, error)
	DeletePlate(ctx context.Context, id uuid.UUID) (bool, error)
}

type PlateService struct {
	store PlateStore
	log   zerolog.Logger
}

func NewPlateService(store PlateStore, log zerolog.Logger) *PlateService {
	return &PlateService{
		store: store,
		log:   log.With().Str("component", "plate_service").Logger(),
	}
}

func (s *PlateService) List(ctx context.Context) ([]anpr.PlateSummary, error) {
	plates, err := s.store.ListPlates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plates: %w", err)
	}
	return plates, nil
}

// Create registers a plate under its standardized text. The text must pass
// validation and must not be registered yet.
func (s *PlateService) Create(ctx context.Context, plate anpr.Plate) (*anpr.Plate, error) {
	if strings.TrimSpace(plate.PlateText) == "" {
		return nil, fmt.Errorf("%w: plate_text is required", ErrInvalidInput)
	}

	result := utils.ValidatePlate(plate.PlateText)
	if !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlate, result.Error)
	}

	existing, err := s.store.GetPlateByText(ctx, result.Plate)
	if err != nil {
		return nil, fmt.Errorf("failed to check plate: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: plate %s", ErrConflict, result.Plate)
	}

	plate.ID = uuid.Nil
	plate.PlateText = result.Plate
	if err := s.store.CreatePlate(ctx, &plate); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("plate_id", plate.ID.String()).
		Str("plate", plate.PlateText).
		Bool("is_blacklisted", plate.IsBlacklisted).
		Msg("plate registered")

	return &plate, nil
}

func (s *PlateService) Update(ctx context.Context, id uuid.UUID, upd anpr.PlateUpdate) (*anpr.Plate, error) {
	plate, err := s.store.UpdatePlate(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if plate == nil {
		return nil, fmt.Errorf("%w: plate %s", ErrNotFound, id)
	}
	return plate, nil
}

func (s *PlateService) Delete(ctx context.Context, id uuid.UUID) error {
	ok, err := s.store.DeletePlate(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: plate %s", ErrNotFound, id)
	}
	s.log.Info().Str("plate_id", id.String()).Msg("plate deleted")
	return nil
}
