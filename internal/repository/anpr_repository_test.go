package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"anpr-stream/internal/domain/anpr"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(&Plate{}, &User{}, &Detection{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func save(t *testing.T, repo *ANPRRepository, plate string, at time.Time, track anpr.TrackID) anpr.DetectionRecord {
	t.Helper()
	rec, _, err := repo.SaveDetection(context.Background(), plate, func(p anpr.Plate) anpr.DetectionRecord {
		return anpr.DetectionRecord{
			Confidence: 0.9,
			Timestamp:  at,
			RawText:    plate,
			IsVerified: p.HasRegistration(),
			TrackID:    track,
			BBox:       []int{1, 2, 3, 4},
		}
	})
	if err != nil {
		t.Fatalf("SaveDetection(%s) error = %v", plate, err)
	}
	return rec
}

func strPtr(s string) *string { return &s }

func TestSaveDetectionReusesPlate(t *testing.T) {
	repo := NewANPRRepository(newTestDB(t))
	now := time.Now().UTC()

	first := save(t, repo, "12-G5000.50", now.Add(-time.Minute), 3)
	second := save(t, repo, "12-G5000.50", now, anpr.NoTrack)

	if first.PlateID != second.PlateID {
		t.Errorf("plate ids differ: %s vs %s", first.PlateID, second.PlateID)
	}

	latest, err := repo.LatestDetection(context.Background())
	if err != nil {
		t.Fatalf("LatestDetection() error = %v", err)
	}
	if latest == nil || latest.ID != second.ID {
		t.Fatalf("LatestDetection() = %+v, want %s", latest, second.ID)
	}
	if latest.PlateText != "12-G5000.50" || latest.TrackID != nil {
		t.Errorf("latest = %+v", latest)
	}

	views, err := repo.FindDetections(context.Background(), anpr.DetectionFilter{})
	if err != nil {
		t.Fatalf("FindDetections() error = %v", err)
	}
	if len(views) != 2 || views[1].TrackID == nil || *views[1].TrackID != 3 {
		t.Errorf("views = %+v", views)
	}
}

func TestSaveDetectionConcurrentSamePlate(t *testing.T) {
	repo := NewANPRRepository(newTestDB(t))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := repo.SaveDetection(context.Background(), "30-A1234.56", func(anpr.Plate) anpr.DetectionRecord {
				return anpr.DetectionRecord{Confidence: 0.5}
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SaveDetection() error = %v", err)
		}
	}

	plates, err := repo.ListPlates(context.Background())
	if err != nil {
		t.Fatalf("ListPlates() error = %v", err)
	}
	if len(plates) != 1 || plates[0].DetectionCount != 8 || plates[0].LastSeen == nil {
		t.Errorf("plates = %+v", plates)
	}
}

func TestVerifiedFollowsRegistration(t *testing.T) {
	repo := NewANPRRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.CreatePlate(ctx, &anpr.Plate{PlateText: "12-G5000.50", Province: strPtr("Gia Lai")}); err != nil {
		t.Fatalf("CreatePlate() error = %v", err)
	}
	rec := save(t, repo, "12-G5000.50", time.Now().UTC(), 1)
	if !rec.IsVerified {
		t.Error("detection of a registered plate is not verified")
	}

	rec = save(t, repo, "51-H1234.56", time.Now().UTC(), 2)
	if rec.IsVerified {
		t.Error("detection of an unknown plate is verified")
	}
}

func TestFindDetectionsFilters(t *testing.T) {
	repo := NewANPRRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	save(t, repo, "12-G5000.50", now.Add(-2*time.Hour), 1)
	save(t, repo, "51-H1234.56", now.Add(-time.Hour), 2)
	save(t, repo, "51-H9999.99", now, 3)

	plate, err := repo.GetPlateByText(ctx, "51-H1234.56")
	if err != nil || plate == nil {
		t.Fatalf("GetPlateByText() = %v, %v", plate, err)
	}
	blacklisted := true
	if _, err := repo.UpdatePlate(ctx, plate.ID, anpr.PlateUpdate{IsBlacklisted: &blacklisted, BlacklistReason: strPtr("stolen")}); err != nil {
		t.Fatalf("UpdatePlate() error = %v", err)
	}

	from := now.Add(-90 * time.Minute)
	tests := []struct {
		name   string
		filter anpr.DetectionFilter
		want   []string
	}{
		{name: "all newest first", filter: anpr.DetectionFilter{}, want: []string{"51-H9999.99", "51-H1234.56", "12-G5000.50"}},
		{name: "search is case-insensitive", filter: anpr.DetectionFilter{Search: "51-h"}, want: []string{"51-H9999.99", "51-H1234.56"}},
		{name: "limit", filter: anpr.DetectionFilter{Limit: 1}, want: []string{"51-H9999.99"}},
		{name: "blacklisted", filter: anpr.DetectionFilter{BlacklistedOnly: true}, want: []string{"51-H1234.56"}},
		{name: "from", filter: anpr.DetectionFilter{From: &from}, want: []string{"51-H9999.99", "51-H1234.56"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views, err := repo.FindDetections(ctx, tt.filter)
			if err != nil {
				t.Fatalf("FindDetections() error = %v", err)
			}
			if len(views) != len(tt.want) {
				t.Fatalf("got %d detections, want %d", len(views), len(tt.want))
			}
			for i, v := range views {
				if v.PlateText != tt.want[i] {
					t.Errorf("views[%d] = %s, want %s", i, v.PlateText, tt.want[i])
				}
			}
		})
	}

	views, _ := repo.FindDetections(ctx, anpr.DetectionFilter{BlacklistedOnly: true})
	if len(views) == 1 && (views[0].BlacklistReason == nil || *views[0].BlacklistReason != "stolen") {
		t.Errorf("blacklist reason = %v", views[0].BlacklistReason)
	}
}

func TestDetectionStatsAndRetention(t *testing.T) {
	repo := NewANPRRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.CreatePlate(ctx, &anpr.Plate{PlateText: "12-G5000.50", OwnerName: strPtr("A"), IsBlacklisted: true}); err != nil {
		t.Fatalf("CreatePlate() error = %v", err)
	}
	save(t, repo, "12-G5000.50", now.Add(-48*time.Hour), 1)
	save(t, repo, "12-G5000.50", now, 2)
	save(t, repo, "51-H1234.56", now, 3)

	stats, err := repo.DetectionStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DetectionStats() error = %v", err)
	}
	want := anpr.DetectionStats{
		TotalDetections:       3,
		VerifiedDetections:    2,
		BlacklistedDetections: 2,
		UniquePlates:          2,
		TodayDetections:       2,
	}
	if stats != want {
		t.Errorf("DetectionStats() = %+v, want %+v", stats, want)
	}

	deleted, err := repo.DeleteDetectionsBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteDetectionsBefore() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestPlateCRUD(t *testing.T) {
	repo := NewANPRRepository(newTestDB(t))
	ctx := context.Background()

	plate := &anpr.Plate{PlateText: "12-G5000.50"}
	if err := repo.CreatePlate(ctx, plate); err != nil {
		t.Fatalf("CreatePlate() error = %v", err)
	}
	if err := repo.CreatePlate(ctx, &anpr.Plate{PlateText: "12-G5000.50"}); err == nil {
		t.Error("duplicate CreatePlate() succeeded")
	}

	updated, err := repo.UpdatePlate(ctx, plate.ID, anpr.PlateUpdate{OwnerName: strPtr("Tran B")})
	if err != nil {
		t.Fatalf("UpdatePlate() error = %v", err)
	}
	if updated.OwnerName == nil || *updated.OwnerName != "Tran B" || updated.Province != nil {
		t.Errorf("updated = %+v", updated)
	}

	missing, err := repo.UpdatePlate(ctx, uuid.New(), anpr.PlateUpdate{OwnerName: strPtr("x")})
	if err != nil || missing != nil {
		t.Errorf("UpdatePlate(unknown) = %v, %v", missing, err)
	}

	save(t, repo, "12-G5000.50", time.Now().UTC(), 1)
	ok, err := repo.DeletePlate(ctx, plate.ID)
	if err != nil || !ok {
		t.Fatalf("DeletePlate() = %v, %v", ok, err)
	}
	if latest, _ := repo.LatestDetection(ctx); latest != nil {
		t.Errorf("detections survived plate delete: %+v", latest)
	}
	if ok, _ := repo.DeletePlate(ctx, plate.ID); ok {
		t.Error("second DeletePlate() reported true")
	}
}

func TestUserRepository(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	user := &anpr.User{Username: "op", PasswordHash: "hash", Role: "staff", IsActive: true}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	got, err := repo.GetUserByUsername(ctx, "op")
	if err != nil || got == nil || got.ID != user.ID {
		t.Fatalf("GetUserByUsername() = %+v, %v", got, err)
	}
	byID, err := repo.GetUserByID(ctx, user.ID)
	if err != nil || byID == nil || byID.Username != "op" {
		t.Fatalf("GetUserByID() = %+v, %v", byID, err)
	}
	if none, err := repo.GetUserByUsername(ctx, "ghost"); err != nil || none != nil {
		t.Errorf("GetUserByUsername(ghost) = %+v, %v", none, err)
	}
}
