package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/models"
)

// LedgerRow is the projection of a ledger entry used by aggregation.
type LedgerRow struct {
	UserID       uint
	ActivityCode string
	DeltaPoints  int
	EventTime    time.Time
}

// LedgerRepository appends to and reads the points ledger. There is no update or delete.
type LedgerRepository interface {
	WithTx(tx *gorm.DB) LedgerRepository
	Append(ctx context.Context, entry *models.PointsLedgerEntry) error
	FindByExternalEventID(ctx context.Context, externalID string) (models.PointsLedgerEntry, error)
	ListByUser(ctx context.Context, userID uint) ([]models.PointsLedgerEntry, error)
	SumByUser(ctx context.Context, userID uint) (int64, error)
	ScanRows(ctx context.Context, since *time.Time, batchSize int, fn func([]LedgerRow) error) error
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository constructs the ledger repository.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) WithTx(tx *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: dbOrTx(r.db, tx)}
}

func (r *ledgerRepository) Append(ctx context.Context, entry *models.PointsLedgerEntry) error {
	if entry.EventTime.IsZero() {
		entry.EventTime = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *ledgerRepository) FindByExternalEventID(ctx context.Context, externalID string) (models.PointsLedgerEntry, error) {
	var entry models.PointsLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("external_event_id = ?", externalID).
		First(&entry).Error; err != nil {
		return models.PointsLedgerEntry{}, err
	}
	return entry, nil
}

func (r *ledgerRepository) ListByUser(ctx context.Context, userID uint) ([]models.PointsLedgerEntry, error) {
	var entries []models.PointsLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("event_time DESC, id DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *ledgerRepository) SumByUser(ctx context.Context, userID uint) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.PointsLedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta_points), 0)").
		Scan(&total).Error
	return total, err
}

// ScanRows streams ledger rows (optionally those at or after since) in id order.
func (r *ledgerRepository) ScanRows(ctx context.Context, since *time.Time, batchSize int, fn func([]LedgerRow) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	query := r.db.WithContext(ctx).
		Model(&models.PointsLedgerEntry{}).
		Select("id, user_id, activity_code, delta_points, event_time")
	if since != nil {
		query = query.Where("event_time >= ?", *since)
	}

	var batch []models.PointsLedgerEntry
	result := query.FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		rows := make([]LedgerRow, 0, len(batch))
		for _, entry := range batch {
			rows = append(rows, LedgerRow{
				UserID:       entry.UserID,
				ActivityCode: entry.ActivityCode,
				DeltaPoints:  entry.DeltaPoints,
				EventTime:    entry.EventTime,
			})
		}
		return fn(rows)
	})
	return result.Error
}
