package handler_test

import (
	"context"
	"errors"
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
)

type stubReviewService struct {
	err      error
	lastID   uint
	lastReq  dto.ReviewRequest
	lastBulk dto.BulkReviewRequest
	caller   access.Context
}

func (s *stubReviewService) Review(ctx context.Context, id uint, req dto.ReviewRequest) (dto.ReviewResponse, error) {
	s.lastID = id
	s.lastReq = req
	s.caller, _ = access.FromContext(ctx)
	if s.err != nil {
		return dto.ReviewResponse{}, s.err
	}
	return dto.ReviewResponse{PointsAwarded: 20}, nil
}

func (s *stubReviewService) BulkReview(_ context.Context, req dto.BulkReviewRequest) (dto.BulkReviewResponse, error) {
	s.lastBulk = req
	if s.err != nil {
		return dto.BulkReviewResponse{}, s.err
	}
	return dto.BulkReviewResponse{}, nil
}

func newReviewApp(svc *stubReviewService) *fiber.App {
	app := fiber.New()
	app.Use(bindCaller(access.Context{UserID: 2, Role: access.RoleReviewer, Cohort: "c1"}))
	handler.NewReviewHandler(svc, discardLogger()).Register(app.Group("/api/v1/submissions"))
	return app
}

func TestReviewHandlerPassesRequest(t *testing.T) {
	svc := &stubReviewService{}
	app := newReviewApp(svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/submissions/12/review", strings.NewReader(`{"action":"approve","point_adjustment":5}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeResponse(t, resp)
	require.True(t, body.Success)
	require.Equal(t, "submission reviewed", body.Message)
	require.Equal(t, uint(12), svc.lastID)
	require.Equal(t, "approve", svc.lastReq.Action)
	require.Equal(t, 5, *svc.lastReq.PointAdjustment)
	require.Equal(t, uint(2), svc.caller.UserID)
}

func TestReviewHandlerRejectsBadID(t *testing.T) {
	app := newReviewApp(&stubReviewService{})

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/submissions/abc/review", strings.NewReader(`{"action":"approve"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestReviewHandlerMapsErrorKinds(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{name: "not found", err: apperror.NotFound("submission 12 not found"), status: fiber.StatusNotFound, message: "submission 12 not found"},
		{name: "conflict", err: apperror.Conflict("submission 12 is APPROVED, expected PENDING"), status: fiber.StatusConflict, message: "submission 12 is APPROVED, expected PENDING"},
		{name: "validation", err: apperror.Validation("adjustment out of band"), status: fiber.StatusUnprocessableEntity, message: "adjustment out of band"},
		{name: "authorization", err: apperror.Authorization("cohort c2 is outside the caller's scope"), status: fiber.StatusForbidden, message: "cohort c2 is outside the caller's scope"},
		{name: "transient", err: apperror.Transient("crm unavailable", errors.New("timeout")), status: fiber.StatusServiceUnavailable, message: "crm unavailable"},
		{name: "internal is masked", err: errors.New("pq: relation does not exist"), status: fiber.StatusInternalServerError, message: "failed to review submission"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newReviewApp(&stubReviewService{err: tc.err})

			req := httptest.NewRequest(http.MethodPatch, "/api/v1/submissions/12/review", strings.NewReader(`{"action":"approve"}`))
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			body := decodeResponse(t, resp)
			require.False(t, body.Success)
			require.Equal(t, tc.message, body.Message)
		})
	}
}

func TestBulkReviewHandlerReturnsDetails(t *testing.T) {
	svc := &stubReviewService{err: apperror.NotFound("missing ids: 404").WithDetails(apperror.Detail{Field: "submission_ids", Message: "404"})}
	app := newReviewApp(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/bulk-review", strings.NewReader(`{"submission_ids":[1,404],"action":"reject","note":"late"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	body := decodeResponse(t, resp)
	require.JSONEq(t, `[{"field":"submission_ids","message":"404"}]`, string(body.Details))
	require.Equal(t, []uint{1, 404}, svc.lastBulk.SubmissionIDs)
	require.Equal(t, "late", *svc.lastBulk.Note)
}
