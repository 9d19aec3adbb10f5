package service

import (
	"sort"
	"time"

	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/repository"
)

// RollingWindow is the span covered by the rolling leaderboard.
const RollingWindow = 30 * 24 * time.Hour

type userTotal struct {
	userID       uint
	total        int
	lastActivity time.Time
}

// leaderboardAccumulator sums ledger rows per user while they stream in.
type leaderboardAccumulator struct {
	since  *time.Time
	totals map[uint]*userTotal
}

func newLeaderboardAccumulator(since *time.Time) *leaderboardAccumulator {
	return &leaderboardAccumulator{since: since, totals: make(map[uint]*userTotal)}
}

func (a *leaderboardAccumulator) add(rows []repository.LedgerRow) {
	for _, row := range rows {
		if a.since != nil && row.EventTime.Before(*a.since) {
			continue
		}
		total, ok := a.totals[row.UserID]
		if !ok {
			total = &userTotal{userID: row.UserID}
			a.totals[row.UserID] = total
		}
		total.total += row.DeltaPoints
		if row.EventTime.After(total.lastActivity) {
			total.lastActivity = row.EventTime
		}
	}
}

// entries ranks users by total points desc, then most recent activity desc.
// Ranks are 1-based row numbers; user id breaks remaining ties.
func (a *leaderboardAccumulator) entries(users map[uint]models.User) []models.LeaderboardEntry {
	totals := make([]*userTotal, 0, len(a.totals))
	for _, total := range a.totals {
		totals = append(totals, total)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].total != totals[j].total {
			return totals[i].total > totals[j].total
		}
		if !totals[i].lastActivity.Equal(totals[j].lastActivity) {
			return totals[i].lastActivity.After(totals[j].lastActivity)
		}
		return totals[i].userID < totals[j].userID
	})

	entries := make([]models.LeaderboardEntry, 0, len(totals))
	for i, total := range totals {
		user := users[total.userID]
		entries = append(entries, models.LeaderboardEntry{
			Rank:           i + 1,
			UserID:         total.userID,
			Name:           user.Name,
			Cohort:         user.Cohort,
			School:         user.School,
			TotalPoints:    total.total,
			LastActivityAt: total.lastActivity.UTC(),
		})
	}
	return entries
}

// RankLeaderboard builds a ranked leaderboard from ledger rows. A non-nil since
// keeps rows at or after it.
func RankLeaderboard(rows []repository.LedgerRow, users map[uint]models.User, since *time.Time) []models.LeaderboardEntry {
	acc := newLeaderboardAccumulator(since)
	acc.add(rows)
	return acc.entries(users)
}

// FilterLeaderboard narrows ranked entries to a cohort or school, keeping their global ranks.
func FilterLeaderboard(entries []models.LeaderboardEntry, cohort, school string, limit int) []models.LeaderboardEntry {
	filtered := make([]models.LeaderboardEntry, 0, len(entries))
	for _, entry := range entries {
		if cohort != "" && entry.Cohort != cohort {
			continue
		}
		if school != "" && entry.School != school {
			continue
		}
		filtered = append(filtered, entry)
		if limit > 0 && len(filtered) == limit {
			break
		}
	}
	return filtered
}

type activityTally struct {
	metrics      models.ActivityMetrics
	participants map[uint]struct{}
}

type groupTally struct {
	participants map[uint]struct{}
	points       int64
	approved     int64
}

type dayTally struct {
	entries int64
	points  int64
	users   map[uint]struct{}
}

// metricsAccumulator derives the activity, cohort, school and daily views.
type metricsAccumulator struct {
	users      map[uint]models.User
	activities map[string]*activityTally
	cohorts    map[string]*groupTally
	schools    map[string]*groupTally
	days       map[time.Time]*dayTally
}

func newMetricsAccumulator(users map[uint]models.User) *metricsAccumulator {
	acc := &metricsAccumulator{
		users:      users,
		activities: make(map[string]*activityTally),
		cohorts:    make(map[string]*groupTally),
		schools:    make(map[string]*groupTally),
		days:       make(map[time.Time]*dayTally),
	}
	for _, user := range users {
		if user.Cohort != "" {
			acc.group(acc.cohorts, user.Cohort).participants[user.ID] = struct{}{}
		}
		if user.School != "" {
			acc.group(acc.schools, user.School).participants[user.ID] = struct{}{}
		}
	}
	return acc
}

func (a *metricsAccumulator) activity(code string) *activityTally {
	tally, ok := a.activities[code]
	if !ok {
		tally = &activityTally{
			metrics:      models.ActivityMetrics{ActivityCode: code},
			participants: make(map[uint]struct{}),
		}
		a.activities[code] = tally
	}
	return tally
}

func (a *metricsAccumulator) group(groups map[string]*groupTally, key string) *groupTally {
	tally, ok := groups[key]
	if !ok {
		tally = &groupTally{participants: make(map[uint]struct{})}
		groups[key] = tally
	}
	return tally
}

func (a *metricsAccumulator) addSubmissions(rows []repository.SubmissionRow) {
	for _, row := range rows {
		tally := a.activity(row.ActivityCode)
		tally.metrics.Submissions++
		tally.participants[row.UserID] = struct{}{}

		switch row.Status {
		case models.SubmissionStatusPending:
			tally.metrics.Pending++
		case models.SubmissionStatusApproved:
			tally.metrics.Approved++
		case models.SubmissionStatusRejected:
			tally.metrics.Rejected++
		}

		if row.Status != models.SubmissionStatusApproved {
			continue
		}
		user := a.users[row.UserID]
		if user.Cohort != "" {
			a.group(a.cohorts, user.Cohort).approved++
		}
		if user.School != "" {
			a.group(a.schools, user.School).approved++
		}
	}
}

func (a *metricsAccumulator) addLedger(rows []repository.LedgerRow) {
	for _, row := range rows {
		a.activity(row.ActivityCode).metrics.TotalPoints += int64(row.DeltaPoints)

		user := a.users[row.UserID]
		if user.Cohort != "" {
			a.group(a.cohorts, user.Cohort).points += int64(row.DeltaPoints)
		}
		if user.School != "" {
			a.group(a.schools, user.School).points += int64(row.DeltaPoints)
		}

		day := dayBucket(row.EventTime)
		tally, ok := a.days[day]
		if !ok {
			tally = &dayTally{users: make(map[uint]struct{})}
			a.days[day] = tally
		}
		tally.entries++
		tally.points += int64(row.DeltaPoints)
		tally.users[row.UserID] = struct{}{}
	}
}

func (a *metricsAccumulator) activityMetrics() []models.ActivityMetrics {
	rows := make([]models.ActivityMetrics, 0, len(a.activities))
	for _, tally := range a.activities {
		metrics := tally.metrics
		metrics.Participants = int64(len(tally.participants))
		rows = append(rows, metrics)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ActivityCode < rows[j].ActivityCode })
	return rows
}

func (a *metricsAccumulator) cohortMetrics() []models.CohortMetrics {
	rows := make([]models.CohortMetrics, 0, len(a.cohorts))
	for cohort, tally := range a.cohorts {
		rows = append(rows, models.CohortMetrics{
			Cohort:       cohort,
			Participants: int64(len(tally.participants)),
			TotalPoints:  tally.points,
			Approved:     tally.approved,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalPoints != rows[j].TotalPoints {
			return rows[i].TotalPoints > rows[j].TotalPoints
		}
		return rows[i].Cohort < rows[j].Cohort
	})
	return rows
}

func (a *metricsAccumulator) schoolMetrics() []models.SchoolMetrics {
	rows := make([]models.SchoolMetrics, 0, len(a.schools))
	for school, tally := range a.schools {
		rows = append(rows, models.SchoolMetrics{
			School:       school,
			Participants: int64(len(tally.participants)),
			TotalPoints:  tally.points,
			Approved:     tally.approved,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalPoints != rows[j].TotalPoints {
			return rows[i].TotalPoints > rows[j].TotalPoints
		}
		return rows[i].School < rows[j].School
	})
	return rows
}

func (a *metricsAccumulator) timeSeries() []models.TimeSeriesMetrics {
	rows := make([]models.TimeSeriesMetrics, 0, len(a.days))
	for day, tally := range a.days {
		rows = append(rows, models.TimeSeriesMetrics{
			Day:         day,
			Entries:     tally.entries,
			Points:      tally.points,
			ActiveUsers: int64(len(tally.users)),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Day.Before(rows[j].Day) })
	return rows
}

func dayBucket(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

// rollingWindowStart returns the inclusive lower bound of the rolling window ending at now.
func rollingWindowStart(now time.Time) time.Time {
	return now.UTC().Add(-RollingWindow)
}
