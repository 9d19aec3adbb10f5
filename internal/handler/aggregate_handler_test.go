package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/handler"
	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/service"
)

type stubAggregateService struct {
	service.AggregateService
	results     []dto.RefreshResult
	views       []string
	leaderboard dto.LeaderboardRequest
}

func (s *stubAggregateService) Refresh(ctx context.Context, views ...string) ([]dto.RefreshResult, error) {
	if _, err := access.RequireMinimumRole(ctx, access.RoleAdmin); err != nil {
		return nil, err
	}
	s.views = views
	return s.results, nil
}

func (s *stubAggregateService) Leaderboard(_ context.Context, req dto.LeaderboardRequest) (dto.LeaderboardResponse, error) {
	s.leaderboard = req
	if req.Cohort == "c9" {
		return dto.LeaderboardResponse{}, apperror.Authorization("cohort c9 is outside the caller's scope")
	}
	return dto.LeaderboardResponse{
		View:    models.ViewLeaderboardAllTime,
		Entries: []models.LeaderboardEntry{{Rank: 1, UserID: 4, TotalPoints: 106}},
		Source:  "snapshot",
	}, nil
}

func newAggregateApp(svc *stubAggregateService, role access.Role) *fiber.App {
	app := fiber.New()
	app.Use(bindCaller(access.Context{UserID: 1, Role: role, Cohort: "c1"}))
	h := handler.NewAggregateHandler(svc, discardLogger())
	h.RegisterPublic(app.Group("/api/v1"))
	h.RegisterAdmin(app.Group("/api/v1/admin/aggregates"))
	return app
}

func TestRefreshHandlerReportsPartialFailure(t *testing.T) {
	svc := &stubAggregateService{results: []dto.RefreshResult{
		{ViewName: models.ViewLeaderboardAllTime, Success: true},
		{ViewName: models.ViewCohortMetrics, Success: false, Error: "scan submissions: timeout"},
	}}
	app := newAggregateApp(svc, access.RoleAdmin)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/aggregates/refresh", strings.NewReader(`{"views":["leaderboard_all_time"]}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusMultiStatus, resp.StatusCode)
	require.Equal(t, []string{models.ViewLeaderboardAllTime}, svc.views)

	var results []dto.RefreshResult
	require.NoError(t, json.Unmarshal(decodeResponse(t, resp).Data, &results))
	require.Len(t, results, 2)
	require.Equal(t, "scan submissions: timeout", results[1].Error)
}

func TestRefreshHandlerAllViewsSucceed(t *testing.T) {
	svc := &stubAggregateService{results: []dto.RefreshResult{{ViewName: models.ViewLeaderboardAllTime, Success: true}}}
	app := newAggregateApp(svc, access.RoleAdmin)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/admin/aggregates/refresh?views=leaderboard_30d,%20time_series_daily", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []string{models.ViewLeaderboard30d, models.ViewTimeSeries}, svc.views)
}

func TestRefreshHandlerForbiddenForReviewers(t *testing.T) {
	app := newAggregateApp(&stubAggregateService{}, access.RoleReviewer)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/admin/aggregates/refresh", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestLeaderboardHandlerParsesQuery(t *testing.T) {
	svc := &stubAggregateService{}
	app := newAggregateApp(svc, access.RoleParticipant)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard?view=leaderboard_30d&cohort=c1&limit=10", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, dto.LeaderboardRequest{View: models.ViewLeaderboard30d, Cohort: "c1", Limit: 10}, svc.leaderboard)

	var board dto.LeaderboardResponse
	require.NoError(t, json.Unmarshal(decodeResponse(t, resp).Data, &board))
	require.Equal(t, 106, board.Entries[0].TotalPoints)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard?limit=ten", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard?cohort=c9", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
