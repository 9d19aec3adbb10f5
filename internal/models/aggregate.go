package models

import "time"

// Aggregate view names.
const (
	ViewLeaderboardAllTime = "leaderboard_all_time"
	ViewLeaderboard30d     = "leaderboard_30d"
	ViewActivityMetrics    = "activity_metrics"
	ViewCohortMetrics      = "cohort_metrics"
	ViewSchoolMetrics      = "school_metrics"
	ViewTimeSeries         = "time_series_daily"
)

// AllViews lists every maintained aggregate in refresh order.
func AllViews() []string {
	return []string{
		ViewLeaderboardAllTime,
		ViewLeaderboard30d,
		ViewActivityMetrics,
		ViewCohortMetrics,
		ViewSchoolMetrics,
		ViewTimeSeries,
	}
}

// IsLeaderboardView reports whether view holds leaderboard rows.
func IsLeaderboardView(view string) bool {
	return view == ViewLeaderboardAllTime || view == ViewLeaderboard30d
}

// AggregateRefresh is the publish pointer of a view: readers only see rows of Generation.
type AggregateRefresh struct {
	ViewName    string     `gorm:"primaryKey;size:64" json:"view_name"`
	Generation  int64      `gorm:"not null" json:"generation"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	Success     bool       `json:"success"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	AttemptedAt time.Time  `json:"attempted_at"`
}

// LeaderboardEntry is one ranked row of a leaderboard snapshot.
type LeaderboardEntry struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	ViewName       string    `gorm:"size:64;not null;index:idx_leaderboard_gen,priority:1" json:"-"`
	Generation     int64     `gorm:"not null;index:idx_leaderboard_gen,priority:2" json:"-"`
	Rank           int       `gorm:"not null" json:"rank"`
	UserID         uint      `gorm:"not null" json:"user_id"`
	Name           string    `gorm:"size:255" json:"name"`
	Cohort         string    `gorm:"size:64" json:"cohort"`
	School         string    `gorm:"size:255" json:"school"`
	TotalPoints    int       `gorm:"not null" json:"total_points"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ActivityMetrics summarises submissions and points of one activity.
type ActivityMetrics struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	Generation   int64  `gorm:"not null;index" json:"-"`
	ActivityCode string `gorm:"size:32;not null" json:"activity_code"`
	Submissions  int64  `json:"submissions"`
	Pending      int64  `json:"pending"`
	Approved     int64  `json:"approved"`
	Rejected     int64  `json:"rejected"`
	TotalPoints  int64  `json:"total_points"`
	Participants int64  `json:"participants"`
}

// CohortMetrics summarises one cohort.
type CohortMetrics struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	Generation   int64  `gorm:"not null;index" json:"-"`
	Cohort       string `gorm:"size:64;not null" json:"cohort"`
	Participants int64  `json:"participants"`
	TotalPoints  int64  `json:"total_points"`
	Approved     int64  `json:"approved"`
}

// SchoolMetrics summarises one school.
type SchoolMetrics struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	Generation   int64  `gorm:"not null;index" json:"-"`
	School       string `gorm:"size:255;not null" json:"school"`
	Participants int64  `json:"participants"`
	TotalPoints  int64  `json:"total_points"`
	Approved     int64  `json:"approved"`
}

// TimeSeriesMetrics holds per-day ledger totals.
type TimeSeriesMetrics struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	Generation  int64     `gorm:"not null;index" json:"-"`
	Day         time.Time `gorm:"not null" json:"day"`
	Entries     int64     `json:"entries"`
	Points      int64     `json:"points"`
	ActiveUsers int64     `json:"active_users"`
}

// AggregateModels lists the tables that must be migrated for the refresh engine.
func AggregateModels() []interface{} {
	return []interface{}{
		&AggregateRefresh{},
		&LeaderboardEntry{},
		&ActivityMetrics{},
		&CohortMetrics{},
		&SchoolMetrics{},
		&TimeSeriesMetrics{},
	}
}

// CoreModels lists the source-of-truth tables.
func CoreModels() []interface{} {
	return []interface{}{
		&User{},
		&Activity{},
		&Submission{},
		&PointsLedgerEntry{},
		&AuditLogEntry{},
		&ExternalEvent{},
		&EarnedBadge{},
	}
}
