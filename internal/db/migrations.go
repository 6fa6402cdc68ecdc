package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS plates (
		id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		plate_text       VARCHAR(20) NOT NULL,
		province         VARCHAR(50),
		vehicle_type     VARCHAR(30),
		owner_name       VARCHAR(100),
		is_blacklisted   BOOLEAN NOT NULL DEFAULT FALSE,
		blacklist_reason TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_plates_plate_text ON plates(plate_text);`,
	`CREATE INDEX IF NOT EXISTS idx_plates_blacklisted ON plates(is_blacklisted) WHERE is_blacklisted;`,

	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username      VARCHAR(50) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		full_name     VARCHAR(100),
		role          VARCHAR(20) NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_users_username ON users(username);`,

	// Detections are append-only; a plate's detections go with it.
	`CREATE TABLE IF NOT EXISTS detections (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		plate_id        UUID NOT NULL REFERENCES plates(id) ON DELETE CASCADE,
		user_id         UUID REFERENCES users(id) ON DELETE SET NULL,
		confidence      DOUBLE PRECISION NOT NULL,
		timestamp       TIMESTAMPTZ NOT NULL DEFAULT now(),
		raw_text        VARCHAR(50),
		crop_image_path TEXT,
		is_verified     BOOLEAN NOT NULL DEFAULT FALSE
	);`,
	`ALTER TABLE detections ADD COLUMN IF NOT EXISTS tracker_id BIGINT;`,
	`ALTER TABLE detections ADD COLUMN IF NOT EXISTS bbox JSONB;`,
	`CREATE INDEX IF NOT EXISTS idx_detections_plate_id ON detections(plate_id);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(timestamp DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_verified ON detections(is_verified) WHERE is_verified;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
