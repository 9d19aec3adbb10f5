package dto

import (
	"encoding/json"
	"time"
)

// Ingestion outcomes.
const (
	IngestStatusProcessed = "processed"
	IngestStatusDuplicate = "duplicate"
	IngestStatusUnmatched = "unmatched"
)

// CompletionEvent is a learning-platform completion delivered by webhook.
type CompletionEvent struct {
	ID           string                 `json:"id"`
	Source       string                 `json:"source"`
	ContactID    string                 `json:"contact_id"`
	Email        string                 `json:"email" validate:"omitempty,email"`
	ActivityCode string                 `json:"activity_code" validate:"required,oneof=LEARN EXPLORE AMPLIFY PRESENT SHINE"`
	CompletedAt  time.Time              `json:"completed_at"`
	Payload      map[string]interface{} `json:"payload"`
}

// IngestResult reports what one delivery did.
type IngestResult struct {
	EventID       string     `json:"event_id"`
	Status        string     `json:"status"`
	UserID        *uint      `json:"user_id,omitempty"`
	SubmissionID  *uint      `json:"submission_id,omitempty"`
	LedgerEntryID *uint      `json:"ledger_entry_id,omitempty"`
	Points        int        `json:"points"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// ReconcileRequest assigns an unmatched event to a user.
type ReconcileRequest struct {
	UserID uint `json:"user_id" validate:"required,gt=0"`
}

// ExternalEventResponse describes a stored event.
type ExternalEventResponse struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	UserMatch   *uint           `json:"user_match,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}
