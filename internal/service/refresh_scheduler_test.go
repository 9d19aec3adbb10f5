package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/dto"
)

type stubAggregates struct {
	AggregateService
	stale      bool
	refreshes  int
	failViews  bool
	refreshErr error
	actors     []access.Context
}

func (s *stubAggregates) ShouldRefresh(context.Context) (dto.StalenessResponse, error) {
	return dto.StalenessResponse{ShouldRefresh: s.stale}, nil
}

func (s *stubAggregates) Refresh(ctx context.Context, _ ...string) ([]dto.RefreshResult, error) {
	ac, _ := access.FromContext(ctx)
	s.actors = append(s.actors, ac)
	s.refreshes++
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return []dto.RefreshResult{{ViewName: "leaderboard_all_time", Success: !s.failViews}}, nil
}

func TestSchedulerTickSkipsFreshViews(t *testing.T) {
	aggregates := &stubAggregates{}
	scheduler := NewRefreshScheduler(aggregates, nil, 0, testLogger())

	require.False(t, scheduler.Tick(context.Background()))
	require.Zero(t, aggregates.refreshes)

	aggregates.stale = true
	require.True(t, scheduler.Tick(context.Background()))
	require.Equal(t, 1, aggregates.refreshes)
	require.True(t, aggregates.actors[0].IsSystem())
}

func TestSchedulerTickRefreshesWhenDirty(t *testing.T) {
	aggregates := &stubAggregates{}
	scheduler := NewRefreshScheduler(aggregates, nil, 0, testLogger())

	scheduler.MarkDirty()
	require.True(t, scheduler.Tick(context.Background()))
	require.Equal(t, 1, aggregates.refreshes)

	// The dirty flag is consumed by a successful refresh.
	require.False(t, scheduler.Tick(context.Background()))
	require.Equal(t, 1, aggregates.refreshes)
}

func TestSchedulerKeepsDirtyFlagOnFailure(t *testing.T) {
	aggregates := &stubAggregates{failViews: true}
	scheduler := NewRefreshScheduler(aggregates, nil, 0, testLogger())

	scheduler.MarkDirty()
	require.True(t, scheduler.Tick(context.Background()))
	require.True(t, scheduler.Tick(context.Background()))
	require.Equal(t, 2, aggregates.refreshes)

	aggregates.failViews = false
	aggregates.refreshErr = errors.New("database unavailable")
	require.False(t, scheduler.Tick(context.Background()))

	aggregates.refreshErr = nil
	require.True(t, scheduler.Tick(context.Background()))
	require.False(t, scheduler.Tick(context.Background()))
	require.Equal(t, 4, aggregates.refreshes)
}
