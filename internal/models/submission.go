package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submission statuses. APPROVED and REJECTED are terminal.
const (
	SubmissionStatusPending  = "PENDING"
	SubmissionStatusApproved = "APPROVED"
	SubmissionStatusRejected = "REJECTED"
)

// Submission visibilities.
const (
	VisibilityPrivate = "PRIVATE"
	VisibilityPublic  = "PUBLIC"
)

// Submission is one user's reviewable entry for an activity.
type Submission struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       uint           `gorm:"not null;index" json:"user_id"`
	ActivityCode string         `gorm:"size:32;not null;index" json:"activity_code"`
	Status       string         `gorm:"size:16;not null;index" json:"status"`
	Visibility   string         `gorm:"size:16;not null" json:"visibility"`
	Payload      datatypes.JSON `json:"payload"`
	ReviewerID   *uint          `json:"reviewer_id,omitempty"`
	ReviewNote   *string        `gorm:"type:text" json:"review_note,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsPending reports whether the submission can still transition.
func (s Submission) IsPending() bool {
	return s.Status == SubmissionStatusPending
}

// IsTerminal reports whether the submission reached a final status.
func (s Submission) IsTerminal() bool {
	return s.Status == SubmissionStatusApproved || s.Status == SubmissionStatusRejected
}
