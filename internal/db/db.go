package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"anpr-stream/internal/config"
	"anpr-stream/internal/repository"
)

// New opens the database named by cfg.DB.DSN and brings its schema up to
// date. DSNs starting with "sqlite:" or "file:" open SQLite; anything else
// is treated as PostgreSQL.
func New(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	dbLog := log.With().Str("component", "gorm").Logger()
	gormCfg := &gorm.Config{
		Logger: gormlogger.New(&dbLog, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	dsn := strings.TrimSpace(cfg.DB.DSN)
	sqlitePath, isSQLite := sqliteDSN(dsn)

	var (
		database *gorm.DB
		err      error
	)
	if isSQLite {
		database, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	} else {
		database, err = gorm.Open(postgres.Open(dsn), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if isSQLite {
		// SQLite allows one writer at a time.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.DB.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		}
		if cfg.DB.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		}
		if cfg.DB.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := HealthCheck(ctx, database); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if isSQLite {
		err = AutoMigrate(database)
	} else {
		err = runMigrations(database)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Bool("sqlite", isSQLite).Msg("database ready")
	return database, nil
}

// AutoMigrate creates the schema from the repository models. It is used for
// SQLite, where the PostgreSQL migrations do not apply.
func AutoMigrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&repository.Plate{}, &repository.User{}, &repository.Detection{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func HealthCheck(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func sqliteDSN(dsn string) (string, bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://"), true
	case strings.HasPrefix(dsn, "sqlite:"):
		return strings.TrimPrefix(dsn, "sqlite:"), true
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return dsn, true
	}
	return "", false
}
