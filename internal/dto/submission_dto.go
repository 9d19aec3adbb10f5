package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/elevate-api/internal/models"
)

// Review actions.
const (
	ReviewActionApprove = "approve"
	ReviewActionReject  = "reject"
)

// SubmissionCreateRequest is sent by a participant submitting an activity.
type SubmissionCreateRequest struct {
	ActivityCode string          `json:"activity_code" validate:"required,oneof=LEARN EXPLORE AMPLIFY PRESENT SHINE"`
	Payload      json.RawMessage `json:"payload"`
}

// SubmissionListRequest filters submission listings.
type SubmissionListRequest struct {
	UserID       uint
	ActivityCode string
	Status       string `validate:"omitempty,oneof=PENDING APPROVED REJECTED"`
	Cohort       string
	School       string
	Page         int
	PageSize     int `validate:"omitempty,max=200"`
}

// ReviewRequest transitions one submission.
type ReviewRequest struct {
	Action          string  `json:"action" validate:"required,oneof=approve reject"`
	Note            *string `json:"note" validate:"omitempty,max=2000"`
	PointAdjustment *int    `json:"point_adjustment"`
}

// BulkReviewRequest transitions many submissions at once.
type BulkReviewRequest struct {
	SubmissionIDs []uint  `json:"submission_ids" validate:"required,min=1,max=500,dive,gt=0"`
	Action        string  `json:"action" validate:"required,oneof=approve reject"`
	Note          *string `json:"note" validate:"omitempty,max=2000"`
}

// SubmissionResponse is the persisted submission shape.
type SubmissionResponse struct {
	ID           uint            `json:"id"`
	UserID       uint            `json:"user_id"`
	ActivityCode string          `json:"activity_code"`
	Status       string          `json:"status"`
	Visibility   string          `json:"visibility"`
	Payload      json.RawMessage `json:"payload"`
	ReviewerID   *uint           `json:"reviewer_id,omitempty"`
	ReviewNote   *string         `json:"review_note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SubmissionListResponse wraps a paginated submission list.
type SubmissionListResponse struct {
	Items      []SubmissionResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}

// ReviewResponse reports the outcome of one transition.
type ReviewResponse struct {
	Submission    SubmissionResponse `json:"submission"`
	PointsAwarded int                `json:"points_awarded"`
	LedgerEntryID *uint              `json:"ledger_entry_id,omitempty"`
	AuditEntryID  uint               `json:"audit_entry_id"`
}

// BulkReviewResponse reports the outcome of a bulk transition.
type BulkReviewResponse struct {
	Items       []ReviewResponse `json:"items"`
	TotalPoints int              `json:"total_points"`
}

// NewSubmissionResponse converts a submission model into a DTO.
func NewSubmissionResponse(submission models.Submission) SubmissionResponse {
	payload := json.RawMessage(submission.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return SubmissionResponse{
		ID:           submission.ID,
		UserID:       submission.UserID,
		ActivityCode: submission.ActivityCode,
		Status:       submission.Status,
		Visibility:   submission.Visibility,
		Payload:      payload,
		ReviewerID:   submission.ReviewerID,
		ReviewNote:   submission.ReviewNote,
		CreatedAt:    submission.CreatedAt,
		UpdatedAt:    submission.UpdatedAt,
	}
}

// NewSubmissionResponseSlice converts many submissions.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}
	return responses
}
