package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/elevate-api/internal/models"
)

// ExternalEventRepository stores inbound completion events.
type ExternalEventRepository interface {
	WithTx(tx *gorm.DB) ExternalEventRepository
	Get(ctx context.Context, id string) (models.ExternalEvent, error)
	Save(ctx context.Context, event *models.ExternalEvent) error
	MarkProcessed(ctx context.Context, id string, userID uint, at time.Time) (bool, error)
	ListUnmatched(ctx context.Context, limit int) ([]models.ExternalEvent, error)
}

type externalEventRepository struct {
	db *gorm.DB
}

// NewExternalEventRepository constructs the external event repository.
func NewExternalEventRepository(db *gorm.DB) ExternalEventRepository {
	return &externalEventRepository{db: db}
}

func (r *externalEventRepository) WithTx(tx *gorm.DB) ExternalEventRepository {
	return &externalEventRepository{db: dbOrTx(r.db, tx)}
}

func (r *externalEventRepository) Get(ctx context.Context, id string) (models.ExternalEvent, error) {
	var event models.ExternalEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return models.ExternalEvent{}, err
	}
	return event, nil
}

// Save records the event on first delivery; later deliveries leave the row untouched.
func (r *externalEventRepository) Save(ctx context.Context, event *models.ExternalEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event).Error
}

// MarkProcessed stamps the event once; it reports false when it was already processed.
func (r *externalEventRepository) MarkProcessed(ctx context.Context, id string, userID uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ExternalEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]interface{}{
			"user_match":   userID,
			"processed_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *externalEventRepository) ListUnmatched(ctx context.Context, limit int) ([]models.ExternalEvent, error) {
	query := r.db.WithContext(ctx).
		Where("user_match IS NULL AND processed_at IS NULL").
		Order("received_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []models.ExternalEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
