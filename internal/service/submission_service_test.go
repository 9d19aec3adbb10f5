package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/models"
)

func newTestSubmissionService(store *testStore) SubmissionService {
	return NewSubmissionService(store.tx, store.submissions, store.activities, store.policy, store.validator, testLogger())
}

func TestSubmitCreatesPendingSubmission(t *testing.T) {
	store := setupStore(t)
	svc := newTestSubmissionService(store)
	participant := store.createUser(t, "ana", "participant", "c1", "s1")

	resp, err := svc.Submit(asUser(participant), dto.SubmissionCreateRequest{
		ActivityCode: " amplify ",
		Payload:      json.RawMessage(`{ "peers_trained": 4 }`),
	})
	require.NoError(t, err)
	require.Equal(t, models.ActivityAmplify, resp.ActivityCode)
	require.Equal(t, models.SubmissionStatusPending, resp.Status)
	require.Equal(t, models.VisibilityPrivate, resp.Visibility)
	require.Equal(t, participant.ID, resp.UserID)
	require.JSONEq(t, `{"peers_trained":4}`, string(resp.Payload))

	// Submissions never touch the ledger.
	require.Zero(t, store.countLedger(t))
}

func TestSubmitEnforcesQuota(t *testing.T) {
	store := setupStore(t)
	svc := newTestSubmissionService(store)
	reviewSvc := newTestReviewService(store, nil, nil)
	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	admin := store.createUser(t, "ada", "admin", "", "")

	first, err := svc.Submit(asUser(participant), dto.SubmissionCreateRequest{ActivityCode: models.ActivityLearn})
	require.NoError(t, err)

	_, err = svc.Submit(asUser(participant), dto.SubmissionCreateRequest{ActivityCode: models.ActivityLearn})
	require.ErrorIs(t, err, apperror.ErrConflict)

	// A rejected submission frees the slot.
	_, err = reviewSvc.Review(asUser(admin), first.ID, dto.ReviewRequest{Action: dto.ReviewActionReject})
	require.NoError(t, err)

	_, err = svc.Submit(asUser(participant), dto.SubmissionCreateRequest{ActivityCode: models.ActivityLearn})
	require.NoError(t, err)

	// Activities without a quota accept repeats.
	for i := 0; i < 3; i++ {
		_, err = svc.Submit(asUser(participant), dto.SubmissionCreateRequest{ActivityCode: models.ActivityExplore})
		require.NoError(t, err)
	}
}

func TestSubmitValidatesInput(t *testing.T) {
	store := setupStore(t)
	svc := newTestSubmissionService(store)
	participant := store.createUser(t, "ana", "participant", "c1", "s1")

	cases := map[string]dto.SubmissionCreateRequest{
		"unknown activity":  {ActivityCode: "DANCE"},
		"array payload":     {ActivityCode: models.ActivityExplore, Payload: json.RawMessage(`[1]`)},
		"negative count":    {ActivityCode: models.ActivityAmplify, Payload: json.RawMessage(`{"students_trained":-2}`)},
		"oversized payload": {ActivityCode: models.ActivityExplore, Payload: json.RawMessage(`{"notes":"` + strings.Repeat("x", 70<<10) + `"}`)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Submit(asUser(participant), req)
			require.ErrorIs(t, err, apperror.ErrValidation)
		})
	}

	_, err := svc.Submit(context.Background(), dto.SubmissionCreateRequest{ActivityCode: models.ActivityExplore})
	require.ErrorIs(t, err, apperror.ErrAuthorization)

	_, err = svc.Submit(access.WithContext(context.Background(), access.System()), dto.SubmissionCreateRequest{ActivityCode: models.ActivityExplore})
	require.ErrorIs(t, err, apperror.ErrAuthorization)

	require.Zero(t, countSubmissions(t, store))
}

func TestListScopesByRole(t *testing.T) {
	store := setupStore(t)
	svc := newTestSubmissionService(store)

	ana := store.createUser(t, "ana", "participant", "c1", "s1")
	bea := store.createUser(t, "bea", "participant", "c1", "s2")
	caio := store.createUser(t, "caio", "participant", "c2", "s2")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	admin := store.createUser(t, "ada", "admin", "", "")

	store.createSubmission(t, ana.ID, models.ActivityExplore, "")
	store.createSubmission(t, ana.ID, models.ActivityLearn, "")
	store.createSubmission(t, bea.ID, models.ActivityExplore, "")
	store.createSubmission(t, caio.ID, models.ActivityExplore, "")

	own, err := svc.List(asUser(ana), dto.SubmissionListRequest{})
	require.NoError(t, err)
	require.Len(t, own.Items, 2)
	require.Equal(t, int64(2), own.Pagination.TotalItems)

	_, err = svc.List(asUser(ana), dto.SubmissionListRequest{UserID: bea.ID})
	require.ErrorIs(t, err, apperror.ErrAuthorization)

	cohort, err := svc.List(asUser(reviewer), dto.SubmissionListRequest{})
	require.NoError(t, err)
	require.Len(t, cohort.Items, 3)

	_, err = svc.List(asUser(reviewer), dto.SubmissionListRequest{Cohort: "c2"})
	require.ErrorIs(t, err, apperror.ErrAuthorization)

	all, err := svc.List(asUser(admin), dto.SubmissionListRequest{ActivityCode: "explore", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, all.Items, 2)
	require.Equal(t, int64(3), all.Pagination.TotalItems)
	require.Equal(t, 2, all.Pagination.TotalPages)

	school, err := svc.List(asUser(admin), dto.SubmissionListRequest{School: "s2"})
	require.NoError(t, err)
	require.Len(t, school.Items, 2)

	_, err = svc.List(asUser(admin), dto.SubmissionListRequest{Status: "archived"})
	require.ErrorIs(t, err, apperror.ErrValidation)
}
