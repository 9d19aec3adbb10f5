package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/models"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	UserID       *uint
	ActivityCode string
	Status       string
	Cohort       string
	School       string
	Page         int
	PageSize     int
}

// ReviewUpdate carries the fields written by a status transition.
type ReviewUpdate struct {
	Status     string
	Visibility string
	ReviewerID uint
	Note       *string
	At         time.Time
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	WithTx(tx *gorm.DB) SubmissionRepository
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.Submission, error)
	CountByUserAndActivity(ctx context.Context, userID uint, activityCode string) (int64, error)
	TransitionFromPending(ctx context.Context, id uint, update ReviewUpdate) (bool, error)
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) WithTx(tx *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: dbOrTx(r.db, tx)}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.Submission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var submissions []models.Submission
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) CountByUserAndActivity(ctx context.Context, userID uint, activityCode string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("user_id = ? AND activity_code = ?", userID, activityCode).
		Where("status <> ?", models.SubmissionStatusRejected).
		Count(&count).Error
	return count, err
}

// TransitionFromPending updates the submission only while it is still PENDING.
// It reports false when another writer already moved it to a terminal status.
func (r *submissionRepository) TransitionFromPending(ctx context.Context, id uint, update ReviewUpdate) (bool, error) {
	fields := map[string]interface{}{
		"status":      update.Status,
		"reviewer_id": update.ReviewerID,
		"review_note": update.Note,
		"updated_at":  update.At,
	}
	if update.Visibility != "" {
		fields["visibility"] = update.Visibility
	}

	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, models.SubmissionStatusPending).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.UserID != nil {
		query = query.Where("submissions.user_id = ?", *filter.UserID)
	}
	if filter.ActivityCode != "" {
		query = query.Where("submissions.activity_code = ?", filter.ActivityCode)
	}
	if filter.Status != "" {
		query = query.Where("submissions.status = ?", filter.Status)
	}
	if filter.Cohort != "" || filter.School != "" {
		query = query.Joins("JOIN users ON users.id = submissions.user_id")
		if filter.Cohort != "" {
			query = query.Where("users.cohort = ?", filter.Cohort)
		}
		if filter.School != "" {
			query = query.Where("users.school = ?", filter.School)
		}
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var submissions []models.Submission
	if err := query.Order("submissions.created_at DESC").Find(&submissions).Error; err != nil {
		return nil, 0, err
	}
	return submissions, total, nil
}
