package models

import "time"

// Ledger entry sources.
const (
	LedgerSourceForm    = "FORM"
	LedgerSourceWebhook = "WEBHOOK"
	LedgerSourceManual  = "MANUAL"
)

// PointsLedgerEntry is an immutable point delta. Entries are only ever inserted.
type PointsLedgerEntry struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;index:idx_ledger_user_time,priority:1" json:"user_id"`
	ActivityCode    string    `gorm:"size:32;not null;index" json:"activity_code"`
	DeltaPoints     int       `gorm:"not null" json:"delta_points"`
	Source          string    `gorm:"size:16;not null" json:"source"`
	SubmissionID    *uint     `gorm:"index" json:"submission_id,omitempty"`
	ExternalEventID *string   `gorm:"size:191;uniqueIndex" json:"external_event_id,omitempty"`
	EventTime       time.Time `gorm:"not null;index:idx_ledger_user_time,priority:2" json:"event_time"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName pins the ledger table name.
func (PointsLedgerEntry) TableName() string {
	return "points_ledger"
}
