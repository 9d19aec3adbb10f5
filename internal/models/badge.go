package models

import "time"

// EarnedBadge links a user to a badge; unique per (user, badge).
type EarnedBadge struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:ux_earned_badge,priority:1" json:"user_id"`
	BadgeCode string    `gorm:"size:64;not null;uniqueIndex:ux_earned_badge,priority:2" json:"badge_code"`
	AwardedBy uint      `gorm:"not null" json:"awarded_by"`
	CreatedAt time.Time `json:"created_at"`
}
