package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/models"
)

// AuditFilter narrows audit log queries.
type AuditFilter struct {
	Page     int
	PageSize int
	ActorID  *uint
	Action   string
	TargetID string
}

// AuditRepository persists the append-only audit trail.
type AuditRepository interface {
	WithTx(tx *gorm.DB) AuditRepository
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	List(ctx context.Context, filter AuditFilter) ([]models.AuditLogEntry, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository constructs the audit repository.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) WithTx(tx *gorm.DB) AuditRepository {
	return &auditRepository{db: dbOrTx(r.db, tx)}
}

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]models.AuditLogEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditLogEntry{})

	if filter.ActorID != nil {
		query = query.Where("actor_id = ?", *filter.ActorID)
	}

	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}

	if filter.TargetID != "" {
		query = query.Where("target_id = ?", filter.TargetID)
	}

	countQuery := query.Session(&gorm.Session{})
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		offset := (page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var entries []models.AuditLogEntry
	if err := query.Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
