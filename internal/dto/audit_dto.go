package dto

import (
	"time"

	"github.com/noah-isme/elevate-api/internal/models"
)

// AuditListRequest filters the audit trail.
type AuditListRequest struct {
	Page     int
	PageSize int `validate:"omitempty,max=200"`
	ActorID  uint
	Action   string
	TargetID string
}

// AuditEntryResponse serialises an audit entry.
type AuditEntryResponse struct {
	ID        uint                   `json:"id"`
	ActorID   uint                   `json:"actor_id"`
	ActorRole string                 `json:"actor_role"`
	Action    string                 `json:"action"`
	TargetID  *string                `json:"target_id,omitempty"`
	Meta      map[string]interface{} `json:"meta"`
	CreatedAt time.Time              `json:"created_at"`
}

// AuditListResponse wraps a paginated audit response.
type AuditListResponse struct {
	Items      []AuditEntryResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}

// NewAuditEntryResponse converts an audit model into a DTO.
func NewAuditEntryResponse(entry models.AuditLogEntry) AuditEntryResponse {
	meta := map[string]interface{}{}
	for key, value := range entry.Meta {
		meta[key] = value
	}
	return AuditEntryResponse{
		ID:        entry.ID,
		ActorID:   entry.ActorID,
		ActorRole: entry.ActorRole,
		Action:    entry.Action,
		TargetID:  entry.TargetID,
		Meta:      meta,
		CreatedAt: entry.CreatedAt,
	}
}
