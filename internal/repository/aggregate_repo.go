package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/elevate-api/internal/models"
)

const snapshotInsertBatch = 500

// SubmissionRow is the projection of a submission used by aggregation.
type SubmissionRow struct {
	UserID       uint
	ActivityCode string
	Status       string
}

// Snapshot holds the rows of one view computed at one generation.
type Snapshot struct {
	View        string
	Generation  int64
	Leaderboard []models.LeaderboardEntry
	Activities  []models.ActivityMetrics
	Cohorts     []models.CohortMetrics
	Schools     []models.SchoolMetrics
	TimeSeries  []models.TimeSeriesMetrics
}

// LeaderboardFilter narrows a published leaderboard read.
type LeaderboardFilter struct {
	Cohort string
	School string
	Limit  int
}

// AggregateRepository stores derived snapshots and their publish pointers.
// Snapshot rows are written under a fresh generation and become visible only
// when Publish moves the view's pointer to that generation.
type AggregateRepository interface {
	ScanSubmissions(ctx context.Context, batchSize int, fn func([]SubmissionRow) error) error
	GetRefresh(ctx context.Context, view string) (models.AggregateRefresh, error)
	ListRefreshes(ctx context.Context) ([]models.AggregateRefresh, error)
	WriteSnapshot(ctx context.Context, snapshot Snapshot) error
	Publish(ctx context.Context, refresh models.AggregateRefresh) (bool, error)
	RecordFailure(ctx context.Context, view string, at time.Time, message string) error
	DiscardGeneration(ctx context.Context, view string, generation int64) error
	PruneBefore(ctx context.Context, view string, generation int64) error
	Leaderboard(ctx context.Context, view string, generation int64, filter LeaderboardFilter) ([]models.LeaderboardEntry, error)
	ActivityMetrics(ctx context.Context, generation int64) ([]models.ActivityMetrics, error)
	CohortMetrics(ctx context.Context, generation int64) ([]models.CohortMetrics, error)
	SchoolMetrics(ctx context.Context, generation int64) ([]models.SchoolMetrics, error)
	TimeSeries(ctx context.Context, generation int64) ([]models.TimeSeriesMetrics, error)
}

type aggregateRepository struct {
	db *gorm.DB
}

// NewAggregateRepository constructs the aggregate snapshot repository.
func NewAggregateRepository(db *gorm.DB) AggregateRepository {
	return &aggregateRepository{db: db}
}

func (r *aggregateRepository) ScanSubmissions(ctx context.Context, batchSize int, fn func([]SubmissionRow) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var batch []models.Submission
	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Select("id, user_id, activity_code, status").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			rows := make([]SubmissionRow, 0, len(batch))
			for _, submission := range batch {
				rows = append(rows, SubmissionRow{
					UserID:       submission.UserID,
					ActivityCode: submission.ActivityCode,
					Status:       submission.Status,
				})
			}
			return fn(rows)
		})
	return result.Error
}

func (r *aggregateRepository) GetRefresh(ctx context.Context, view string) (models.AggregateRefresh, error) {
	var refresh models.AggregateRefresh
	if err := r.db.WithContext(ctx).Where("view_name = ?", view).First(&refresh).Error; err != nil {
		return models.AggregateRefresh{}, err
	}
	return refresh, nil
}

func (r *aggregateRepository) ListRefreshes(ctx context.Context) ([]models.AggregateRefresh, error) {
	var refreshes []models.AggregateRefresh
	if err := r.db.WithContext(ctx).Order("view_name ASC").Find(&refreshes).Error; err != nil {
		return nil, err
	}
	return refreshes, nil
}

// WriteSnapshot inserts the shadow rows of a generation. Nothing reads them until Publish.
func (r *aggregateRepository) WriteSnapshot(ctx context.Context, snapshot Snapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch {
		case models.IsLeaderboardView(snapshot.View):
			for i := range snapshot.Leaderboard {
				snapshot.Leaderboard[i].ID = 0
				snapshot.Leaderboard[i].ViewName = snapshot.View
				snapshot.Leaderboard[i].Generation = snapshot.Generation
			}
			return createBatches(tx, snapshot.Leaderboard)
		case snapshot.View == models.ViewActivityMetrics:
			for i := range snapshot.Activities {
				snapshot.Activities[i].ID = 0
				snapshot.Activities[i].Generation = snapshot.Generation
			}
			return createBatches(tx, snapshot.Activities)
		case snapshot.View == models.ViewCohortMetrics:
			for i := range snapshot.Cohorts {
				snapshot.Cohorts[i].ID = 0
				snapshot.Cohorts[i].Generation = snapshot.Generation
			}
			return createBatches(tx, snapshot.Cohorts)
		case snapshot.View == models.ViewSchoolMetrics:
			for i := range snapshot.Schools {
				snapshot.Schools[i].ID = 0
				snapshot.Schools[i].Generation = snapshot.Generation
			}
			return createBatches(tx, snapshot.Schools)
		case snapshot.View == models.ViewTimeSeries:
			for i := range snapshot.TimeSeries {
				snapshot.TimeSeries[i].ID = 0
				snapshot.TimeSeries[i].Generation = snapshot.Generation
			}
			return createBatches(tx, snapshot.TimeSeries)
		default:
			return fmt.Errorf("unknown aggregate view %q", snapshot.View)
		}
	})
}

func createBatches[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(&rows, snapshotInsertBatch).Error
}

// Publish swaps the view pointer to refresh.Generation when it is newer than the
// current one. It reports false when a newer generation was already published.
func (r *aggregateRepository) Publish(ctx context.Context, refresh models.AggregateRefresh) (bool, error) {
	published := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensurePointer(tx, refresh.ViewName, refresh.AttemptedAt); err != nil {
			return err
		}

		result := tx.Model(&models.AggregateRefresh{}).
			Where("view_name = ? AND generation < ?", refresh.ViewName, refresh.Generation).
			Updates(map[string]interface{}{
				"generation":   refresh.Generation,
				"refreshed_at": refresh.RefreshedAt,
				"duration_ms":  refresh.DurationMs,
				"success":      true,
				"last_error":   "",
				"attempted_at": refresh.AttemptedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		published = result.RowsAffected == 1
		return nil
	})
	return published, err
}

// RecordFailure notes a failed attempt and leaves the published generation in place.
func (r *aggregateRepository) RecordFailure(ctx context.Context, view string, at time.Time, message string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensurePointer(tx, view, at); err != nil {
			return err
		}
		return tx.Model(&models.AggregateRefresh{}).
			Where("view_name = ?", view).
			Updates(map[string]interface{}{
				"success":      false,
				"last_error":   message,
				"attempted_at": at,
			}).Error
	})
}

func ensurePointer(tx *gorm.DB, view string, at time.Time) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.AggregateRefresh{ViewName: view, AttemptedAt: at}).Error
}

func (r *aggregateRepository) DiscardGeneration(ctx context.Context, view string, generation int64) error {
	return r.deleteGenerations(ctx, view, "generation = ?", generation)
}

func (r *aggregateRepository) PruneBefore(ctx context.Context, view string, generation int64) error {
	return r.deleteGenerations(ctx, view, "generation < ?", generation)
}

func (r *aggregateRepository) deleteGenerations(ctx context.Context, view, condition string, generation int64) error {
	query := r.db.WithContext(ctx)
	switch {
	case models.IsLeaderboardView(view):
		return query.Where("view_name = ?", view).Where(condition, generation).Delete(&models.LeaderboardEntry{}).Error
	case view == models.ViewActivityMetrics:
		return query.Where(condition, generation).Delete(&models.ActivityMetrics{}).Error
	case view == models.ViewCohortMetrics:
		return query.Where(condition, generation).Delete(&models.CohortMetrics{}).Error
	case view == models.ViewSchoolMetrics:
		return query.Where(condition, generation).Delete(&models.SchoolMetrics{}).Error
	case view == models.ViewTimeSeries:
		return query.Where(condition, generation).Delete(&models.TimeSeriesMetrics{}).Error
	default:
		return fmt.Errorf("unknown aggregate view %q", view)
	}
}

func (r *aggregateRepository) Leaderboard(ctx context.Context, view string, generation int64, filter LeaderboardFilter) ([]models.LeaderboardEntry, error) {
	query := r.db.WithContext(ctx).
		Where("view_name = ? AND generation = ?", view, generation)
	if filter.Cohort != "" {
		query = query.Where("cohort = ?", filter.Cohort)
	}
	if filter.School != "" {
		query = query.Where("school = ?", filter.School)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []models.LeaderboardEntry
	if err := query.Order("rank ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *aggregateRepository) ActivityMetrics(ctx context.Context, generation int64) ([]models.ActivityMetrics, error) {
	var rows []models.ActivityMetrics
	err := r.db.WithContext(ctx).Where("generation = ?", generation).Order("activity_code ASC").Find(&rows).Error
	return rows, err
}

func (r *aggregateRepository) CohortMetrics(ctx context.Context, generation int64) ([]models.CohortMetrics, error) {
	var rows []models.CohortMetrics
	err := r.db.WithContext(ctx).Where("generation = ?", generation).Order("total_points DESC, cohort ASC").Find(&rows).Error
	return rows, err
}

func (r *aggregateRepository) SchoolMetrics(ctx context.Context, generation int64) ([]models.SchoolMetrics, error) {
	var rows []models.SchoolMetrics
	err := r.db.WithContext(ctx).Where("generation = ?", generation).Order("total_points DESC, school ASC").Find(&rows).Error
	return rows, err
}

func (r *aggregateRepository) TimeSeries(ctx context.Context, generation int64) ([]models.TimeSeriesMetrics, error) {
	var rows []models.TimeSeriesMetrics
	err := r.db.WithContext(ctx).Where("generation = ?", generation).Order("day ASC").Find(&rows).Error
	return rows, err
}
