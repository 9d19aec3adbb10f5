package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/models"
)

func newTestReviewService(store *testStore, recorder AuditRecorder, events LedgerEventPublisher) ReviewService {
	if recorder == nil {
		recorder = store.recorder
	}
	return NewReviewService(ReviewDependencies{
		Tx:          store.tx,
		Submissions: store.submissions,
		Users:       store.users,
		Activities:  store.activities,
		Ledger:      store.ledger,
		Audit:       recorder,
		Policy:      store.policy,
		Events:      events,
		Validator:   store.validator,
		Logger:      testLogger(),
	})
}

func TestReviewApproveLearnAwardsBasePoints(t *testing.T) {
	store := setupStore(t)
	events := &recordingEvents{}
	svc := newTestReviewService(store, nil, events)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	submission := store.createSubmission(t, participant.ID, models.ActivityLearn, "")

	resp, err := svc.Review(asUser(reviewer), submission.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove})
	require.NoError(t, err)
	require.Equal(t, 20, resp.PointsAwarded)
	require.Equal(t, models.SubmissionStatusApproved, resp.Submission.Status)
	require.Equal(t, models.VisibilityPublic, resp.Submission.Visibility)
	require.NotNil(t, resp.LedgerEntryID)
	require.NotZero(t, resp.AuditEntryID)

	stored, err := store.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusApproved, stored.Status)
	require.Equal(t, models.VisibilityPublic, stored.Visibility)
	require.NotNil(t, stored.ReviewerID)
	require.Equal(t, reviewer.ID, *stored.ReviewerID)

	entries, err := store.ledger.ListByUser(context.Background(), participant.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 20, entries[0].DeltaPoints)
	require.Equal(t, models.LedgerSourceForm, entries[0].Source)
	require.Equal(t, submission.ID, *entries[0].SubmissionID)

	require.Equal(t, int64(1), store.countAudit(t, models.AuditSubmissionApproved))
	audit, _, err := store.audit.List(context.Background(), auditFilterAll())
	require.NoError(t, err)
	require.EqualValues(t, 20, audit[0].Meta["points_awarded"])

	require.Len(t, events.published, 1)
	require.Equal(t, 20, events.published[0].DeltaPoints)
}

func TestReviewApproveWithAdjustmentRecordsManualSource(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	admin := store.createUser(t, "ada", "admin", "", "")
	submission := store.createSubmission(t, participant.ID, models.ActivityExplore, "")

	adjustment := 10
	resp, err := svc.Review(asUser(admin), submission.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove, PointAdjustment: &adjustment})
	require.NoError(t, err)
	require.Equal(t, 60, resp.PointsAwarded)

	entries, err := store.ledger.ListByUser(context.Background(), participant.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.LedgerSourceManual, entries[0].Source)
}

func TestReviewRejectsAdjustmentOutsideBand(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	submission := store.createSubmission(t, participant.ID, models.ActivityExplore, "")

	adjustment := 11
	_, err := svc.Review(asUser(reviewer), submission.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove, PointAdjustment: &adjustment})
	require.ErrorIs(t, err, apperror.ErrValidation)

	stored, err := store.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, stored.Status)
	require.Zero(t, store.countLedger(t))
}

func TestReviewRejectWritesAuditWithoutLedger(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	submission := store.createSubmission(t, participant.ID, models.ActivityPresent, "")

	note := "<b>missing</b> evidence"
	resp, err := svc.Review(asUser(reviewer), submission.ID, dto.ReviewRequest{Action: dto.ReviewActionReject, Note: &note})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusRejected, resp.Submission.Status)
	require.Equal(t, models.VisibilityPrivate, resp.Submission.Visibility)
	require.Nil(t, resp.LedgerEntryID)
	require.NotNil(t, resp.Submission.ReviewNote)
	require.Equal(t, "missing evidence", *resp.Submission.ReviewNote)

	require.Zero(t, store.countLedger(t))
	require.Equal(t, int64(1), store.countAudit(t, models.AuditSubmissionRejected))
}

func TestReviewTerminalSubmissionIsConflict(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	submission := store.createSubmission(t, participant.ID, models.ActivityLearn, "")

	_, err := svc.Review(asUser(reviewer), submission.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove})
	require.NoError(t, err)

	for _, action := range []string{dto.ReviewActionApprove, dto.ReviewActionReject} {
		_, err = svc.Review(asUser(reviewer), submission.ID, dto.ReviewRequest{Action: action})
		require.ErrorIs(t, err, apperror.ErrConflict)
	}

	stored, err := store.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusApproved, stored.Status)
	require.Equal(t, int64(1), store.countLedger(t))
	require.Equal(t, int64(1), store.countAudit(t, ""))
}

func TestReviewMissingSubmissionIsNotFound(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")

	_, err := svc.Review(asUser(reviewer), 999, dto.ReviewRequest{Action: dto.ReviewActionApprove})
	require.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestReviewAuthorization(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	outsider := store.createUser(t, "olu", "reviewer", "c2", "s1")
	submission := store.createSubmission(t, participant.ID, models.ActivityLearn, "")

	_, err := svc.Review(context.Background(), submission.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove})
	require.ErrorIs(t, err, apperror.ErrAuthorization, "no bound context fails closed")

	_, err = svc.Review(asUser(participant), submission.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove})
	require.ErrorIs(t, err, apperror.ErrAuthorization)

	_, err = svc.Review(asUser(outsider), submission.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove})
	require.ErrorIs(t, err, apperror.ErrAuthorization)

	stored, err := store.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, stored.Status)
}

func TestReviewRejectsOwnSubmission(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)

	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	admin := store.createUser(t, "ada", "admin", "", "")
	own := store.createSubmission(t, reviewer.ID, models.ActivityLearn, "")
	adminOwn := store.createSubmission(t, admin.ID, models.ActivityExplore, "")

	_, err := svc.Review(asUser(reviewer), own.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove})
	require.ErrorIs(t, err, apperror.ErrAuthorization)

	_, err = svc.BulkReview(asUser(admin), dto.BulkReviewRequest{SubmissionIDs: []uint{own.ID, adminOwn.ID}, Action: dto.ReviewActionApprove})
	require.ErrorIs(t, err, apperror.ErrAuthorization)

	require.Zero(t, store.countLedger(t))
	require.Zero(t, store.countAudit(t, ""))

	// Another reviewer in scope may still approve it.
	_, err = svc.Review(asUser(admin), own.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove})
	require.NoError(t, err)
	require.Equal(t, int64(1), store.countLedger(t))
}

func TestReviewRollsBackWhenAuditFails(t *testing.T) {
	store := setupStore(t)
	events := &recordingEvents{}
	svc := newTestReviewService(store, failingRecorder{}, events)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	submission := store.createSubmission(t, participant.ID, models.ActivityLearn, "")

	_, err := svc.Review(asUser(reviewer), submission.ID, dto.ReviewRequest{Action: dto.ReviewActionApprove})
	require.Error(t, err)

	stored, err := store.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, stored.Status)
	require.Nil(t, stored.ReviewerID)
	require.Zero(t, store.countLedger(t))
	require.Empty(t, events.published)
}

func TestBulkReviewApprovesAll(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")

	ids := make([]uint, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, store.createSubmission(t, participant.ID, models.ActivityExplore, "").ID)
	}

	resp, err := svc.BulkReview(asUser(reviewer), dto.BulkReviewRequest{SubmissionIDs: ids, Action: dto.ReviewActionApprove})
	require.NoError(t, err)
	require.Len(t, resp.Items, 5)
	require.Equal(t, 250, resp.TotalPoints)

	entries, err := store.ledger.ListByUser(context.Background(), participant.ID)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for _, entry := range entries {
		require.Equal(t, 50, entry.DeltaPoints)
	}
	require.Equal(t, int64(5), store.countAudit(t, models.AuditSubmissionApproved))

	for _, id := range ids {
		stored, err := store.submissions.GetByID(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, models.SubmissionStatusApproved, stored.Status)
	}
}

func TestBulkReviewMissingIDsHasNoEffect(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	existing := store.createSubmission(t, participant.ID, models.ActivityExplore, "")

	_, err := svc.BulkReview(asUser(reviewer), dto.BulkReviewRequest{
		SubmissionIDs: []uint{existing.ID, 404, 405},
		Action:        dto.ReviewActionApprove,
	})
	require.ErrorIs(t, err, apperror.ErrNotFound)
	require.Contains(t, err.Error(), "missing ids: 404, 405")

	stored, err := store.submissions.GetByID(context.Background(), existing.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, stored.Status)
	require.Zero(t, store.countLedger(t))
	require.Zero(t, store.countAudit(t, ""))
}

func TestBulkReviewNonPendingIsConflict(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, nil, nil)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	first := store.createSubmission(t, participant.ID, models.ActivityExplore, "")
	second := store.createSubmission(t, participant.ID, models.ActivityExplore, "")

	_, err := svc.Review(asUser(reviewer), first.ID, dto.ReviewRequest{Action: dto.ReviewActionReject})
	require.NoError(t, err)

	_, err = svc.BulkReview(asUser(reviewer), dto.BulkReviewRequest{
		SubmissionIDs: []uint{first.ID, second.ID},
		Action:        dto.ReviewActionApprove,
	})
	require.ErrorIs(t, err, apperror.ErrConflict)

	stored, err := store.submissions.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, stored.Status)
	require.Zero(t, store.countLedger(t))
}

func TestBulkReviewRollsBackWhenAuditFails(t *testing.T) {
	store := setupStore(t)
	svc := newTestReviewService(store, failingRecorder{}, nil)

	participant := store.createUser(t, "ana", "participant", "c1", "s1")
	reviewer := store.createUser(t, "rui", "reviewer", "c1", "s1")
	ids := []uint{
		store.createSubmission(t, participant.ID, models.ActivityExplore, "").ID,
		store.createSubmission(t, participant.ID, models.ActivityExplore, "").ID,
	}

	_, err := svc.BulkReview(asUser(reviewer), dto.BulkReviewRequest{SubmissionIDs: ids, Action: dto.ReviewActionApprove})
	require.Error(t, err)

	for _, id := range ids {
		stored, err := store.submissions.GetByID(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, models.SubmissionStatusPending, stored.Status)
	}
	require.Zero(t, store.countLedger(t))
}
