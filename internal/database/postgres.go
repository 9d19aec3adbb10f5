package database

import (
	"context"
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/repository"
)

// ConnectPostgres establishes a connection to the PostgreSQL database using the provided DSN.
func ConnectPostgres(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		return nil, fmt.Errorf("failed to register gorm tracing: %w", err)
	}

	return db, nil
}

// Migrate creates the source-of-truth and aggregate tables and seeds the activity catalog.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(models.CoreModels()...); err != nil {
		return fmt.Errorf("migrate core tables: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(models.AggregateModels()...); err != nil {
		return fmt.Errorf("migrate aggregate tables: %w", err)
	}

	if _, err := repository.NewActivityRepository(db).Seed(ctx, models.DefaultActivities()); err != nil {
		return fmt.Errorf("seed activities: %w", err)
	}
	return nil
}
