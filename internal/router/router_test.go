package router_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elevate-api/internal/config"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/handler"
	"github.com/noah-isme/elevate-api/internal/middleware"
	"github.com/noah-isme/elevate-api/internal/router"
	"github.com/noah-isme/elevate-api/internal/service"
)

const jwtSecret = "router-secret"

type stubIngest struct {
	service.IngestService
	calls int
}

func (s *stubIngest) Parse([]byte) (dto.CompletionEvent, error) {
	return dto.CompletionEvent{ID: "evt-1"}, nil
}

func (s *stubIngest) Ingest(_ context.Context, event dto.CompletionEvent) (dto.IngestResult, error) {
	s.calls++
	return dto.IngestResult{EventID: event.ID, Status: dto.IngestStatusProcessed}, nil
}

type stubAggregates struct {
	service.AggregateService
}

func (stubAggregates) Status(context.Context) (dto.AggregateStatusResponse, error) {
	return dto.AggregateStatusResponse{}, nil
}

func (stubAggregates) Leaderboard(context.Context, dto.LeaderboardRequest) (dto.LeaderboardResponse, error) {
	return dto.LeaderboardResponse{}, nil
}

func newApp(t *testing.T, ingest *stubIngest) *fiber.App {
	t.Helper()
	logger := zerolog.New(io.Discard)
	cfg := config.Config{AppName: "elevate-api", JWTSecret: jwtSecret, WebhookSecret: "hook-secret"}

	app := fiber.New()
	router.Register(app, cfg, router.Dependencies{
		WebhookHandler:   handler.NewWebhookHandler(ingest, logger),
		AggregateHandler: handler.NewAggregateHandler(stubAggregates{}, logger),
	})
	return app
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "5", "role": role}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestWebhookRouteUsesSharedSecret(t *testing.T) {
	ingest := &stubIngest{}
	app := newApp(t, ingest)

	send := func(secret string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/completions", strings.NewReader(`{}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		if secret != "" {
			req.Header.Set(middleware.WebhookSecretHeader, secret)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusUnauthorized, send(""))
	require.Equal(t, fiber.StatusUnauthorized, send("wrong"))
	require.Zero(t, ingest.calls)

	require.Equal(t, fiber.StatusCreated, send("hook-secret"))
	require.Equal(t, 1, ingest.calls)
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	app := newApp(t, &stubIngest{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
	req.Header.Set("Authorization", bearer(t, "participant"))
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	app := newApp(t, &stubIngest{})

	for role, status := range map[string]int{
		"participant": fiber.StatusForbidden,
		"reviewer":    fiber.StatusForbidden,
		"admin":       fiber.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/aggregates/status", nil)
		req.Header.Set("Authorization", bearer(t, role))
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, status, resp.StatusCode, role)
	}
}

func TestHealthIsPublic(t *testing.T) {
	app := newApp(t, &stubIngest{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "elevate-api", resp.Header.Get("X-Application"))
}
