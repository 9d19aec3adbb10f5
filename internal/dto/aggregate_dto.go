package dto

import (
	"time"

	"github.com/noah-isme/elevate-api/internal/models"
)

// RefreshResult reports one view refresh.
type RefreshResult struct {
	ViewName   string `json:"view_name"`
	DurationMs int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// RefreshRequest names the views to refresh; empty means all.
type RefreshRequest struct {
	Views []string `json:"views" validate:"omitempty,dive,oneof=leaderboard_all_time leaderboard_30d activity_metrics cohort_metrics school_metrics time_series_daily"`
}

// StalenessResponse answers whether a refresh is due.
type StalenessResponse struct {
	ShouldRefresh    bool       `json:"should_refresh"`
	LastRefresh      *time.Time `json:"last_refresh,omitempty"`
	StalenessMinutes float64    `json:"staleness_minutes"`
}

// AggregateStatusResponse lists per-view refresh state.
type AggregateStatusResponse struct {
	Staleness StalenessResponse         `json:"staleness"`
	Views     []models.AggregateRefresh `json:"views"`
}

// LeaderboardRequest selects a leaderboard.
type LeaderboardRequest struct {
	View   string `validate:"omitempty,oneof=leaderboard_all_time leaderboard_30d"`
	Cohort string
	School string
	Limit  int `validate:"omitempty,min=1,max=500"`
}

// LeaderboardResponse is a ranked leaderboard.
type LeaderboardResponse struct {
	View        string                    `json:"view"`
	Entries     []models.LeaderboardEntry `json:"entries"`
	GeneratedAt *time.Time                `json:"generated_at,omitempty"`
	Stale       bool                      `json:"stale"`
	Source      string                    `json:"source"`
	CacheHit    bool                      `json:"cache_hit"`
}

// MetricsResponse bundles the published metric snapshots.
type MetricsResponse struct {
	Activities  []models.ActivityMetrics   `json:"activities"`
	Cohorts     []models.CohortMetrics     `json:"cohorts"`
	Schools     []models.SchoolMetrics     `json:"schools"`
	TimeSeries  []models.TimeSeriesMetrics `json:"time_series"`
	GeneratedAt *time.Time                 `json:"generated_at,omitempty"`
}
