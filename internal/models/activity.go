package models

import "time"

// Activity codes of the five program stages.
const (
	ActivityLearn   = "LEARN"
	ActivityExplore = "EXPLORE"
	ActivityAmplify = "AMPLIFY"
	ActivityPresent = "PRESENT"
	ActivityShine   = "SHINE"
)

// Activity is a read-only catalog entry seeded once.
type Activity struct {
	Code           string    `gorm:"primaryKey;size:32" json:"code"`
	Name           string    `gorm:"size:128;not null" json:"name"`
	Stage          int       `gorm:"not null" json:"stage"`
	DefaultPoints  int       `gorm:"not null" json:"default_points"`
	VariablePoints bool      `gorm:"not null;default:false" json:"variable_points"`
	MaxSubmissions int       `gorm:"not null;default:0" json:"max_submissions"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasQuota reports whether the activity limits submissions per user.
func (a Activity) HasQuota() bool {
	return a.MaxSubmissions > 0
}

// DefaultActivities is the catalog seeded on startup.
func DefaultActivities() []Activity {
	return []Activity{
		{Code: ActivityLearn, Name: "Learn", Stage: 1, DefaultPoints: 20, MaxSubmissions: 1},
		{Code: ActivityExplore, Name: "Explore", Stage: 2, DefaultPoints: 50},
		{Code: ActivityAmplify, Name: "Amplify", Stage: 3, DefaultPoints: 25, VariablePoints: true},
		{Code: ActivityPresent, Name: "Present", Stage: 4, DefaultPoints: 35},
		{Code: ActivityShine, Name: "Shine", Stage: 5, DefaultPoints: 50, MaxSubmissions: 1},
	}
}
