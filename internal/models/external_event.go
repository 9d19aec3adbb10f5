package models

import (
	"time"

	"gorm.io/datatypes"
)

// ExternalEvent stores a completion event delivered by the learning platform.
// Rows with a nil UserMatch are awaiting manual reconciliation.
type ExternalEvent struct {
	ID          string         `gorm:"primaryKey;size:191" json:"id"`
	Payload     datatypes.JSON `json:"payload"`
	UserMatch   *uint          `gorm:"index" json:"user_match,omitempty"`
	ProcessedAt *time.Time     `gorm:"index" json:"processed_at,omitempty"`
	ReceivedAt  time.Time      `gorm:"not null" json:"received_at"`
}

// IsProcessed reports whether the event already produced its ledger entry.
func (e ExternalEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}
