package dto

import (
	"time"

	"github.com/noah-isme/elevate-api/internal/models"
)

// RoleChangeRequest changes a user's role.
type RoleChangeRequest struct {
	Role string `json:"role" validate:"required,oneof=participant reviewer admin superadmin"`
}

// CohortOverrideRequest moves a user to another cohort or school.
type CohortOverrideRequest struct {
	Cohort *string `json:"cohort" validate:"omitempty,max=64"`
	School *string `json:"school" validate:"omitempty,max=255"`
}

// BadgeAwardRequest awards a badge.
type BadgeAwardRequest struct {
	BadgeCode string `json:"badge_code" validate:"required,max=64"`
}

// PointsAdjustmentRequest appends a manual ledger correction.
type PointsAdjustmentRequest struct {
	ActivityCode string `json:"activity_code" validate:"required,oneof=LEARN EXPLORE AMPLIFY PRESENT SHINE"`
	Delta        int    `json:"delta" validate:"required,ne=0"`
	Reason       string `json:"reason" validate:"required,min=3,max=500"`
}

// UserResponse serialises a user.
type UserResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Cohort    string    `json:"cohort"`
	School    string    `json:"school"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BadgeResponse serialises an earned badge.
type BadgeResponse struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"user_id"`
	BadgeCode string    `json:"badge_code"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntryResponse serialises a ledger entry.
type LedgerEntryResponse struct {
	ID              uint      `json:"id"`
	UserID          uint      `json:"user_id"`
	ActivityCode    string    `json:"activity_code"`
	DeltaPoints     int       `json:"delta_points"`
	Source          string    `json:"source"`
	ExternalEventID *string   `json:"external_event_id,omitempty"`
	EventTime       time.Time `json:"event_time"`
	CreatedAt       time.Time `json:"created_at"`
}

// BalanceResponse reports a user's point balance.
type BalanceResponse struct {
	UserID  uint                  `json:"user_id"`
	Total   int64                 `json:"total"`
	Entries []LedgerEntryResponse `json:"entries"`
}

// NewUserResponse converts a user model.
func NewUserResponse(user models.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		Cohort:    user.Cohort,
		School:    user.School,
		UpdatedAt: user.UpdatedAt,
	}
}

// NewBadgeResponse converts a badge model.
func NewBadgeResponse(badge models.EarnedBadge) BadgeResponse {
	return BadgeResponse{ID: badge.ID, UserID: badge.UserID, BadgeCode: badge.BadgeCode, CreatedAt: badge.CreatedAt}
}

// NewLedgerEntryResponse converts a ledger model.
func NewLedgerEntryResponse(entry models.PointsLedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:              entry.ID,
		UserID:          entry.UserID,
		ActivityCode:    entry.ActivityCode,
		DeltaPoints:     entry.DeltaPoints,
		Source:          entry.Source,
		ExternalEventID: entry.ExternalEventID,
		EventTime:       entry.EventTime,
		CreatedAt:       entry.CreatedAt,
	}
}
