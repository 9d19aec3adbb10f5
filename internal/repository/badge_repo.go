package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/models"
)

// BadgeRepository persists earned badges.
type BadgeRepository interface {
	WithTx(tx *gorm.DB) BadgeRepository
	Create(ctx context.Context, badge *models.EarnedBadge) error
	Exists(ctx context.Context, userID uint, code string) (bool, error)
	ListByUser(ctx context.Context, userID uint) ([]models.EarnedBadge, error)
}

type badgeRepository struct {
	db *gorm.DB
}

// NewBadgeRepository constructs the badge repository.
func NewBadgeRepository(db *gorm.DB) BadgeRepository {
	return &badgeRepository{db: db}
}

func (r *badgeRepository) WithTx(tx *gorm.DB) BadgeRepository {
	return &badgeRepository{db: dbOrTx(r.db, tx)}
}

func (r *badgeRepository) Create(ctx context.Context, badge *models.EarnedBadge) error {
	return r.db.WithContext(ctx).Create(badge).Error
}

func (r *badgeRepository) Exists(ctx context.Context, userID uint, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EarnedBadge{}).
		Where("user_id = ? AND badge_code = ?", userID, code).
		Count(&count).Error
	return count > 0, err
}

func (r *badgeRepository) ListByUser(ctx context.Context, userID uint) ([]models.EarnedBadge, error) {
	var badges []models.EarnedBadge
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&badges).Error; err != nil {
		return nil, err
	}
	return badges, nil
}
