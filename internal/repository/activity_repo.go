package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/elevate-api/internal/models"
)

// ActivityRepository reads the fixed activity catalog.
type ActivityRepository interface {
	Get(ctx context.Context, code string) (models.Activity, error)
	List(ctx context.Context) ([]models.Activity, error)
	Seed(ctx context.Context, activities []models.Activity) (int64, error)
}

type activityRepository struct {
	db *gorm.DB
}

// NewActivityRepository constructs the catalog repository.
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Get(ctx context.Context, code string) (models.Activity, error) {
	var activity models.Activity
	if err := r.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&activity).Error; err != nil {
		return models.Activity{}, err
	}
	return activity, nil
}

func (r *activityRepository) List(ctx context.Context) ([]models.Activity, error) {
	var activities []models.Activity
	if err := r.db.WithContext(ctx).Order("stage ASC").Find(&activities).Error; err != nil {
		return nil, err
	}
	return activities, nil
}

// Seed inserts missing catalog entries and leaves existing ones untouched.
func (r *activityRepository) Seed(ctx context.Context, activities []models.Activity) (int64, error) {
	if len(activities) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&activities)
	return result.RowsAffected, result.Error
}
