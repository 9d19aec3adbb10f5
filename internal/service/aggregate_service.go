package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/observability"
	"github.com/noah-isme/elevate-api/internal/repository"
)

const (
	defaultStaleness        = 15 * time.Minute
	defaultLeaderboardLimit = 50
	scanBatchSize           = 1000
	snapshotReadAttempts    = 3

	sourceSnapshot = "snapshot"
	sourceDirect   = "direct"
)

// AggregateService maintains and serves the derived views.
type AggregateService interface {
	Refresh(ctx context.Context, views ...string) ([]dto.RefreshResult, error)
	ShouldRefresh(ctx context.Context) (dto.StalenessResponse, error)
	Status(ctx context.Context) (dto.AggregateStatusResponse, error)
	Leaderboard(ctx context.Context, req dto.LeaderboardRequest) (dto.LeaderboardResponse, error)
	Metrics(ctx context.Context) (dto.MetricsResponse, error)
}

// AggregateDependencies groups the collaborators of the refresh engine.
type AggregateDependencies struct {
	Aggregates repository.AggregateRepository
	Ledger     repository.LedgerRepository
	Users      repository.UserRepository
	Cache      *redis.Client
	CacheTTL   time.Duration
	Staleness  time.Duration
	Validator  *validator.Validate
	Logger     zerolog.Logger
}

type aggregateService struct {
	aggregates repository.AggregateRepository
	ledger     repository.LedgerRepository
	users      repository.UserRepository
	cache      *redis.Client
	cacheTTL   time.Duration
	staleness  time.Duration
	validator  *validator.Validate
	logger     zerolog.Logger
	tracer     trace.Tracer
	inflight   singleflight.Group
	now        func() time.Time
}

// NewAggregateService constructs the aggregate refresh engine.
func NewAggregateService(deps AggregateDependencies) AggregateService {
	staleness := deps.Staleness
	if staleness <= 0 {
		staleness = defaultStaleness
	}
	return &aggregateService{
		aggregates: deps.Aggregates,
		ledger:     deps.Ledger,
		users:      deps.Users,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
		staleness:  staleness,
		validator:  deps.Validator,
		logger:     deps.Logger.With().Str("component", "aggregate_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/elevate-api/internal/service/aggregate"),
		now:        time.Now,
	}
}

// Refresh rebuilds the named views, or all views when none are named. Views are
// rebuilt concurrently; a failing view keeps its previous snapshot and is
// reported in its result without affecting the others.
func (s *aggregateService) Refresh(ctx context.Context, views ...string) ([]dto.RefreshResult, error) {
	if _, err := access.RequireMinimumRole(ctx, access.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(dto.RefreshRequest{Views: views}); err != nil {
		return nil, apperror.FromValidator(err)
	}
	if len(views) == 0 {
		views = models.AllViews()
	}
	views = uniqueStrings(views)

	results := make([]dto.RefreshResult, len(views))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, view := range views {
		i, view := i, view
		group.Go(func() error {
			value, _, _ := s.inflight.Do(view, func() (interface{}, error) {
				return s.refreshView(groupCtx, view), nil
			})
			results[i] = value.(dto.RefreshResult)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *aggregateService) refreshView(ctx context.Context, view string) dto.RefreshResult {
	ctx, span := s.tracer.Start(ctx, "aggregate.refresh")
	span.SetAttributes(attribute.String("aggregate.view", view))
	defer span.End()

	started := s.now().UTC()
	result := dto.RefreshResult{ViewName: view}

	generation, err := s.nextGeneration(ctx, view, started)
	if err == nil {
		err = s.rebuild(ctx, view, generation, started)
	}

	elapsed := s.now().UTC().Sub(started)
	result.DurationMs = elapsed.Milliseconds()
	observability.RefreshDuration().WithLabelValues(view).Observe(elapsed.Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh_failed")
		observability.RefreshFailures().WithLabelValues(view).Inc()

		if generation > 0 {
			if discardErr := s.aggregates.DiscardGeneration(context.WithoutCancel(ctx), view, generation); discardErr != nil {
				s.logger.Warn().Err(discardErr).Str("view", view).Msg("failed to discard partial snapshot")
			}
		}
		if recordErr := s.aggregates.RecordFailure(context.WithoutCancel(ctx), view, started, err.Error()); recordErr != nil {
			s.logger.Warn().Err(recordErr).Str("view", view).Msg("failed to record refresh failure")
		}
		s.logger.Error().Err(err).Str("view", view).Msg("aggregate refresh failed, previous snapshot kept")

		result.Error = err.Error()
		return result
	}

	result.Success = true
	s.logger.Info().Str("view", view).Int64("generation", generation).Int64("duration_ms", result.DurationMs).Msg("aggregate refreshed")
	return result
}

// nextGeneration returns a generation strictly newer than the published one.
func (s *aggregateService) nextGeneration(ctx context.Context, view string, at time.Time) (int64, error) {
	generation := at.UnixNano()
	current, err := s.aggregates.GetRefresh(ctx, view)
	switch {
	case err == nil:
		if current.Generation >= generation {
			generation = current.Generation + 1
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, err
	}
	return generation, nil
}

// rebuild writes a shadow generation and publishes it with a single pointer update.
func (s *aggregateService) rebuild(ctx context.Context, view string, generation int64, started time.Time) error {
	snapshot, err := s.compute(ctx, view, started)
	if err != nil {
		return err
	}
	snapshot.Generation = generation

	if err := s.aggregates.WriteSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("write %s snapshot: %w", view, err)
	}

	refreshedAt := s.now().UTC()
	published, err := s.aggregates.Publish(ctx, models.AggregateRefresh{
		ViewName:    view,
		Generation:  generation,
		RefreshedAt: &refreshedAt,
		DurationMs:  refreshedAt.Sub(started).Milliseconds(),
		Success:     true,
		AttemptedAt: started,
	})
	if err != nil {
		return fmt.Errorf("publish %s snapshot: %w", view, err)
	}
	if !published {
		s.logger.Info().Str("view", view).Int64("generation", generation).Msg("newer snapshot already published")
		return s.aggregates.DiscardGeneration(ctx, view, generation)
	}

	if err := s.aggregates.PruneBefore(ctx, view, generation); err != nil {
		s.logger.Warn().Err(err).Str("view", view).Msg("failed to prune old snapshots")
	}
	return nil
}

// compute derives the rows of view from the ledger and submission stores as of now.
func (s *aggregateService) compute(ctx context.Context, view string, now time.Time) (repository.Snapshot, error) {
	users, err := s.userIndex(ctx)
	if err != nil {
		return repository.Snapshot{}, err
	}

	snapshot := repository.Snapshot{View: view}
	switch view {
	case models.ViewLeaderboardAllTime, models.ViewLeaderboard30d:
		snapshot.Leaderboard, err = s.computeLeaderboard(ctx, view, users, now)
		return snapshot, err
	case models.ViewActivityMetrics, models.ViewCohortMetrics, models.ViewSchoolMetrics, models.ViewTimeSeries:
		acc, err := s.computeMetrics(ctx, view, users)
		if err != nil {
			return repository.Snapshot{}, err
		}
		switch view {
		case models.ViewActivityMetrics:
			snapshot.Activities = acc.activityMetrics()
		case models.ViewCohortMetrics:
			snapshot.Cohorts = acc.cohortMetrics()
		case models.ViewSchoolMetrics:
			snapshot.Schools = acc.schoolMetrics()
		default:
			snapshot.TimeSeries = acc.timeSeries()
		}
		return snapshot, nil
	default:
		return repository.Snapshot{}, apperror.Validation("unknown aggregate view %s", view)
	}
}

func (s *aggregateService) computeLeaderboard(ctx context.Context, view string, users map[uint]models.User, now time.Time) ([]models.LeaderboardEntry, error) {
	var since *time.Time
	if view == models.ViewLeaderboard30d {
		start := rollingWindowStart(now)
		since = &start
	}

	acc := newLeaderboardAccumulator(since)
	if err := s.ledger.ScanRows(ctx, since, scanBatchSize, func(rows []repository.LedgerRow) error {
		acc.add(rows)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return acc.entries(users), nil
}

func (s *aggregateService) computeMetrics(ctx context.Context, view string, users map[uint]models.User) (*metricsAccumulator, error) {
	acc := newMetricsAccumulator(users)
	if view != models.ViewTimeSeries {
		if err := s.aggregates.ScanSubmissions(ctx, scanBatchSize, func(rows []repository.SubmissionRow) error {
			acc.addSubmissions(rows)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("scan submissions: %w", err)
		}
	}
	if err := s.ledger.ScanRows(ctx, nil, scanBatchSize, func(rows []repository.LedgerRow) error {
		acc.addLedger(rows)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return acc, nil
}

func (s *aggregateService) userIndex(ctx context.Context) (map[uint]models.User, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	index := make(map[uint]models.User, len(users))
	for _, user := range users {
		index[user.ID] = user
	}
	return index, nil
}

// ShouldRefresh reports the age of the least recently refreshed view.
func (s *aggregateService) ShouldRefresh(ctx context.Context) (dto.StalenessResponse, error) {
	refreshes, err := s.aggregates.ListRefreshes(ctx)
	if err != nil {
		return dto.StalenessResponse{}, err
	}
	return s.stalenessOf(refreshes), nil
}

func (s *aggregateService) stalenessOf(refreshes []models.AggregateRefresh) dto.StalenessResponse {
	published := make(map[string]models.AggregateRefresh, len(refreshes))
	for _, refresh := range refreshes {
		if refresh.Generation > 0 && refresh.RefreshedAt != nil {
			published[refresh.ViewName] = refresh
		}
	}

	var oldest *time.Time
	for _, view := range models.AllViews() {
		refresh, ok := published[view]
		if !ok {
			return dto.StalenessResponse{ShouldRefresh: true, LastRefresh: oldest}
		}
		if oldest == nil || refresh.RefreshedAt.Before(*oldest) {
			at := refresh.RefreshedAt.UTC()
			oldest = &at
		}
	}

	age := s.now().UTC().Sub(*oldest)
	return dto.StalenessResponse{
		ShouldRefresh:    age > s.staleness,
		LastRefresh:      oldest,
		StalenessMinutes: age.Minutes(),
	}
}

func (s *aggregateService) Status(ctx context.Context) (dto.AggregateStatusResponse, error) {
	if _, err := access.RequireMinimumRole(ctx, access.RoleAdmin); err != nil {
		return dto.AggregateStatusResponse{}, err
	}

	refreshes, err := s.aggregates.ListRefreshes(ctx)
	if err != nil {
		return dto.AggregateStatusResponse{}, err
	}
	return dto.AggregateStatusResponse{
		Staleness: s.stalenessOf(refreshes),
		Views:     refreshes,
	}, nil
}

// Leaderboard serves the published snapshot when it is fresh and falls back to
// aggregating the ledger directly otherwise.
func (s *aggregateService) Leaderboard(ctx context.Context, req dto.LeaderboardRequest) (dto.LeaderboardResponse, error) {
	if _, err := access.RequireMinimumRole(ctx, access.RoleParticipant); err != nil {
		return dto.LeaderboardResponse{}, err
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.LeaderboardResponse{}, apperror.FromValidator(err)
	}

	req.Cohort = strings.TrimSpace(req.Cohort)
	req.School = strings.TrimSpace(req.School)
	if req.View == "" {
		req.View = models.ViewLeaderboardAllTime
	}
	if req.Limit <= 0 {
		req.Limit = defaultLeaderboardLimit
	}
	if req.Cohort != "" && !access.CanAccessCohort(ctx, req.Cohort) {
		return dto.LeaderboardResponse{}, apperror.Authorization("cohort %s is outside the caller's scope", req.Cohort)
	}
	if req.School != "" && !access.CanAccessSchool(ctx, req.School) {
		return dto.LeaderboardResponse{}, apperror.Authorization("school %s is outside the caller's scope", req.School)
	}

	ctx, span := s.tracer.Start(ctx, "aggregate.leaderboard")
	span.SetAttributes(attribute.String("aggregate.view", req.View))
	defer span.End()

	refresh, fresh, err := s.publishedRefresh(ctx, req.View)
	if err != nil {
		span.RecordError(err)
		return dto.LeaderboardResponse{}, err
	}
	if !fresh {
		span.SetAttributes(attribute.String("aggregate.source", sourceDirect))
		return s.directLeaderboard(ctx, req)
	}

	if cached, ok := s.readCache(ctx, leaderboardCacheKey(req, refresh.Generation)); ok {
		span.SetAttributes(attribute.Bool("aggregate.cache_hit", true))
		cached.CacheHit = true
		return cached, nil
	}

	var entries []models.LeaderboardEntry
	refresh, ok, err := s.readSnapshot(ctx, req.View, refresh, func(generation int64) error {
		var err error
		entries, err = s.aggregates.Leaderboard(ctx, req.View, generation, repository.LeaderboardFilter{
			Cohort: req.Cohort,
			School: req.School,
			Limit:  req.Limit,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "leaderboard_read_failed")
		return dto.LeaderboardResponse{}, err
	}
	if !ok {
		span.SetAttributes(attribute.String("aggregate.source", sourceDirect))
		return s.directLeaderboard(ctx, req)
	}

	response := dto.LeaderboardResponse{
		View:        req.View,
		Entries:     entries,
		GeneratedAt: refresh.RefreshedAt,
		Source:      sourceSnapshot,
	}
	s.writeCache(ctx, leaderboardCacheKey(req, refresh.Generation), response)
	return response, nil
}

func leaderboardCacheKey(req dto.LeaderboardRequest, generation int64) string {
	return fmt.Sprintf("leaderboard:%s:%d:%s:%s:%d", req.View, generation, req.Cohort, req.School, req.Limit)
}

// readSnapshot runs read against the published generation and confirms the
// pointer did not move meanwhile. Old generations are pruned only after a newer
// one is published, so an unchanged pointer means read saw complete rows.
// ok is false when the view went stale or kept moving; callers then aggregate directly.
func (s *aggregateService) readSnapshot(ctx context.Context, view string, refresh models.AggregateRefresh, read func(generation int64) error) (models.AggregateRefresh, bool, error) {
	for attempt := 1; ; attempt++ {
		if err := read(refresh.Generation); err != nil {
			return refresh, false, err
		}

		current, fresh, err := s.publishedRefresh(ctx, view)
		if err != nil {
			return refresh, false, err
		}
		if !fresh {
			return current, false, nil
		}
		if current.Generation == refresh.Generation {
			return refresh, true, nil
		}
		if attempt >= snapshotReadAttempts {
			s.logger.Warn().Str("view", view).Int("attempts", attempt).Msg("snapshot kept moving during read")
			return current, false, nil
		}
		refresh = current
	}
}

func (s *aggregateService) directLeaderboard(ctx context.Context, req dto.LeaderboardRequest) (dto.LeaderboardResponse, error) {
	users, err := s.userIndex(ctx)
	if err != nil {
		return dto.LeaderboardResponse{}, err
	}

	now := s.now().UTC()
	entries, err := s.computeLeaderboard(ctx, req.View, users, now)
	if err != nil {
		return dto.LeaderboardResponse{}, err
	}

	return dto.LeaderboardResponse{
		View:        req.View,
		Entries:     FilterLeaderboard(entries, req.Cohort, req.School, req.Limit),
		GeneratedAt: &now,
		Stale:       true,
		Source:      sourceDirect,
	}, nil
}

// publishedRefresh returns the view pointer and whether it is within the staleness window.
func (s *aggregateService) publishedRefresh(ctx context.Context, view string) (models.AggregateRefresh, bool, error) {
	refresh, err := s.aggregates.GetRefresh(ctx, view)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.AggregateRefresh{}, false, nil
		}
		return models.AggregateRefresh{}, false, err
	}
	if refresh.Generation == 0 || refresh.RefreshedAt == nil {
		return refresh, false, nil
	}
	return refresh, s.now().UTC().Sub(*refresh.RefreshedAt) <= s.staleness, nil
}

func (s *aggregateService) readCache(ctx context.Context, key string) (dto.LeaderboardResponse, bool) {
	if s.cache == nil {
		return dto.LeaderboardResponse{}, false
	}
	cached, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to read leaderboard cache")
		}
		return dto.LeaderboardResponse{}, false
	}
	var response dto.LeaderboardResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		return dto.LeaderboardResponse{}, false
	}
	return response, true
}

func (s *aggregateService) writeCache(ctx context.Context, key string, response dto.LeaderboardResponse) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to write leaderboard cache")
	}
}

// Metrics returns the activity, cohort, school and daily views. Views that are
// missing or stale are aggregated directly. Cohort and school rows are limited
// to the caller's scope.
func (s *aggregateService) Metrics(ctx context.Context) (dto.MetricsResponse, error) {
	if _, err := access.RequireMinimumRole(ctx, access.RoleReviewer); err != nil {
		return dto.MetricsResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "aggregate.metrics")
	defer span.End()

	var (
		response dto.MetricsResponse
		oldest   *time.Time
		direct   *metricsAccumulator
	)
	fallback := func() (*metricsAccumulator, error) {
		if direct != nil {
			return direct, nil
		}
		users, err := s.userIndex(ctx)
		if err != nil {
			return nil, err
		}
		direct, err = s.computeMetrics(ctx, models.ViewActivityMetrics, users)
		return direct, err
	}

	for _, view := range []string{models.ViewActivityMetrics, models.ViewCohortMetrics, models.ViewSchoolMetrics, models.ViewTimeSeries} {
		view := view
		refresh, fresh, err := s.publishedRefresh(ctx, view)
		if err != nil {
			span.RecordError(err)
			return dto.MetricsResponse{}, err
		}

		if fresh {
			refresh, fresh, err = s.readSnapshot(ctx, view, refresh, func(generation int64) error {
				var err error
				switch view {
				case models.ViewActivityMetrics:
					response.Activities, err = s.aggregates.ActivityMetrics(ctx, generation)
				case models.ViewCohortMetrics:
					response.Cohorts, err = s.aggregates.CohortMetrics(ctx, generation)
				case models.ViewSchoolMetrics:
					response.Schools, err = s.aggregates.SchoolMetrics(ctx, generation)
				default:
					response.TimeSeries, err = s.aggregates.TimeSeries(ctx, generation)
				}
				return err
			})
			if err != nil {
				span.RecordError(err)
				return dto.MetricsResponse{}, err
			}
		}

		if !fresh {
			acc, err := fallback()
			if err != nil {
				span.RecordError(err)
				return dto.MetricsResponse{}, err
			}
			switch view {
			case models.ViewActivityMetrics:
				response.Activities = acc.activityMetrics()
			case models.ViewCohortMetrics:
				response.Cohorts = acc.cohortMetrics()
			case models.ViewSchoolMetrics:
				response.Schools = acc.schoolMetrics()
			default:
				response.TimeSeries = acc.timeSeries()
			}
			now := s.now().UTC()
			oldest = &now
			continue
		}

		if oldest == nil || refresh.RefreshedAt.Before(*oldest) {
			oldest = refresh.RefreshedAt
		}
	}

	response.Cohorts = scopeCohorts(ctx, response.Cohorts)
	response.Schools = scopeSchools(ctx, response.Schools)
	response.GeneratedAt = oldest
	return response, nil
}

func scopeCohorts(ctx context.Context, rows []models.CohortMetrics) []models.CohortMetrics {
	scoped := make([]models.CohortMetrics, 0, len(rows))
	for _, row := range rows {
		if access.CanAccessCohort(ctx, row.Cohort) {
			scoped = append(scoped, row)
		}
	}
	return scoped
}

func scopeSchools(ctx context.Context, rows []models.SchoolMetrics) []models.SchoolMetrics {
	scoped := make([]models.SchoolMetrics, 0, len(rows))
	for _, row := range rows {
		if access.CanAccessSchool(ctx, row.School) {
			scoped = append(scoped, row)
		}
	}
	return scoped
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		unique = append(unique, value)
	}
	return unique
}
