package models

import "time"

// User is a program participant or staff member. Users are never hard-deleted.
type User struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"size:255;not null" json:"name"`
	Email             string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	ExternalContactID *string   `gorm:"size:128;uniqueIndex" json:"external_contact_id,omitempty"`
	Role              string    `gorm:"size:32;not null;default:participant" json:"role"`
	Cohort            string    `gorm:"size:64;index" json:"cohort"`
	School            string    `gorm:"size:255;index" json:"school"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
