package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions written by the core.
const (
	AuditSubmissionApproved = "SUBMISSION_APPROVED"
	AuditSubmissionRejected = "SUBMISSION_REJECTED"
	AuditWebhookProcessed   = "WEBHOOK_PROCESSED"
	AuditWebhookReconciled  = "WEBHOOK_RECONCILED"
	AuditUserRoleChanged    = "USER_ROLE_CHANGED"
	AuditUserCohortChanged  = "USER_COHORT_CHANGED"
	AuditBadgeAwarded       = "BADGE_AWARDED"
	AuditPointsAdjusted     = "POINTS_MANUAL_ADJUSTMENT"
)

// AuditLogEntry records one privileged mutation. Entries are never updated or pruned here.
type AuditLogEntry struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	ActorID   uint              `gorm:"not null;index" json:"actor_id"`
	ActorRole string            `gorm:"size:32;not null" json:"actor_role"`
	Action    string            `gorm:"size:64;not null;index" json:"action"`
	TargetID  *string           `gorm:"size:191;index" json:"target_id,omitempty"`
	Meta      datatypes.JSONMap `gorm:"type:json" json:"meta"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

// TableName pins the audit table name.
func (AuditLogEntry) TableName() string {
	return "audit_log"
}
