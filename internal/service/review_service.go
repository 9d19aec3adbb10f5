package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/observability"
	"github.com/noah-isme/elevate-api/internal/repository"
)

// ReviewService governs the submission lifecycle: PENDING -> APPROVED | REJECTED.
type ReviewService interface {
	Review(ctx context.Context, submissionID uint, req dto.ReviewRequest) (dto.ReviewResponse, error)
	BulkReview(ctx context.Context, req dto.BulkReviewRequest) (dto.BulkReviewResponse, error)
}

// ReviewDependencies groups the collaborators of the review service.
type ReviewDependencies struct {
	Tx          repository.TxManager
	Submissions repository.SubmissionRepository
	Users       repository.UserRepository
	Activities  repository.ActivityRepository
	Ledger      repository.LedgerRepository
	Audit       AuditRecorder
	Policy      PointsPolicy
	Events      LedgerEventPublisher
	Validator   *validator.Validate
	Logger      zerolog.Logger
}

type reviewService struct {
	tx          repository.TxManager
	submissions repository.SubmissionRepository
	users       repository.UserRepository
	activities  repository.ActivityRepository
	ledger      repository.LedgerRepository
	audit       AuditRecorder
	policy      PointsPolicy
	events      LedgerEventPublisher
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// reviewPlan is one fully validated transition waiting to be applied.
type reviewPlan struct {
	submission models.Submission
	approve    bool
	basePoints int
	adjustment int
	awarded    int
	note       *string
}

type reviewOutcome struct {
	plan    reviewPlan
	entry   *models.PointsLedgerEntry
	auditID uint
	at      time.Time
}

// NewReviewService constructs the review state machine.
func NewReviewService(deps ReviewDependencies) ReviewService {
	return &reviewService{
		tx:          deps.Tx,
		submissions: deps.Submissions,
		users:       deps.Users,
		activities:  deps.Activities,
		ledger:      deps.Ledger,
		audit:       deps.Audit,
		policy:      deps.Policy,
		events:      ledgerEventsOrNoop(deps.Events),
		validator:   deps.Validator,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      deps.Logger.With().Str("component", "review_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/elevate-api/internal/service/review"),
		now:         time.Now,
	}
}

func (s *reviewService) Review(ctx context.Context, submissionID uint, req dto.ReviewRequest) (dto.ReviewResponse, error) {
	ctx, span := s.tracer.Start(ctx, "review.single")
	span.SetAttributes(
		attribute.Int64("review.submission_id", int64(submissionID)),
		attribute.String("review.action", req.Action),
	)
	defer span.End()

	actor, err := access.RequireMinimumRole(ctx, access.RoleReviewer)
	if err != nil {
		span.SetStatus(codes.Error, "unauthorized")
		return dto.ReviewResponse{}, err
	}

	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.ReviewResponse{}, apperror.FromValidator(err)
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.ReviewResponse{}, apperror.NotFound("submission %d not found", submissionID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.ReviewResponse{}, err
	}

	if !submission.IsPending() {
		span.SetStatus(codes.Error, "not_pending")
		return dto.ReviewResponse{}, apperror.Conflict("submission %d is %s, expected %s", submission.ID, submission.Status, models.SubmissionStatusPending)
	}

	if err := s.authorizeOwner(ctx, submission.UserID); err != nil {
		span.SetStatus(codes.Error, "owner_scope_denied")
		return dto.ReviewResponse{}, err
	}

	approve := req.Action == dto.ReviewActionApprove
	if !approve && req.PointAdjustment != nil && *req.PointAdjustment != 0 {
		return dto.ReviewResponse{}, apperror.Validation("point adjustment is only allowed when approving")
	}

	plan, err := s.plan(ctx, submission, approve, req.PointAdjustment, s.sanitizeNote(req.Note))
	if err != nil {
		span.SetStatus(codes.Error, "pricing_failed")
		return dto.ReviewResponse{}, err
	}

	var outcome reviewOutcome
	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		applied, err := s.apply(ctx, tx, actor, plan)
		if err != nil {
			return err
		}
		outcome = applied
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction_failed")
		if apperror.KindOf(err) == apperror.KindInternal {
			s.logger.Error().Err(err).Uint("submission_id", submissionID).Msg("review transaction rolled back")
		}
		return dto.ReviewResponse{}, err
	}

	s.afterCommit(ctx, []reviewOutcome{outcome})
	span.SetAttributes(attribute.Int("review.points_awarded", outcome.plan.awarded))

	return outcome.response(), nil
}

func (s *reviewService) BulkReview(ctx context.Context, req dto.BulkReviewRequest) (dto.BulkReviewResponse, error) {
	ctx, span := s.tracer.Start(ctx, "review.bulk")
	span.SetAttributes(
		attribute.Int("review.requested", len(req.SubmissionIDs)),
		attribute.String("review.action", req.Action),
	)
	defer span.End()

	actor, err := access.RequireMinimumRole(ctx, access.RoleReviewer)
	if err != nil {
		span.SetStatus(codes.Error, "unauthorized")
		return dto.BulkReviewResponse{}, err
	}

	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.BulkReviewResponse{}, apperror.FromValidator(err)
	}

	ids := uniqueIDs(req.SubmissionIDs)
	submissions, err := s.submissions.GetByIDs(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return dto.BulkReviewResponse{}, err
	}

	found := make(map[uint]models.Submission, len(submissions))
	for _, submission := range submissions {
		found[submission.ID] = submission
	}

	var missing, notPending []uint
	for _, id := range ids {
		submission, ok := found[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case !submission.IsPending():
			notPending = append(notPending, id)
		}
	}
	if len(missing) > 0 {
		span.SetStatus(codes.Error, "missing_ids")
		return dto.BulkReviewResponse{}, apperror.NotFound("missing ids: %s", joinIDs(missing)).
			WithDetails(idDetails(missing, "not found")...)
	}
	if len(notPending) > 0 {
		span.SetStatus(codes.Error, "not_pending")
		return dto.BulkReviewResponse{}, apperror.Conflict("submissions not pending: %s", joinIDs(notPending)).
			WithDetails(idDetails(notPending, "not pending")...)
	}

	approve := req.Action == dto.ReviewActionApprove
	note := s.sanitizeNote(req.Note)
	plans := make([]reviewPlan, 0, len(ids))
	checkedOwners := map[uint]struct{}{}
	for _, id := range ids {
		submission := found[id]
		if _, seen := checkedOwners[submission.UserID]; !seen {
			if err := s.authorizeOwner(ctx, submission.UserID); err != nil {
				span.SetStatus(codes.Error, "owner_scope_denied")
				return dto.BulkReviewResponse{}, err
			}
			checkedOwners[submission.UserID] = struct{}{}
		}

		plan, err := s.plan(ctx, submission, approve, nil, note)
		if err != nil {
			span.SetStatus(codes.Error, "pricing_failed")
			return dto.BulkReviewResponse{}, fmt.Errorf("submission %d: %w", id, err)
		}
		plans = append(plans, plan)
	}

	outcomes := make([]reviewOutcome, 0, len(plans))
	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		for _, plan := range plans {
			outcome, err := s.apply(ctx, tx, actor, plan)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction_failed")
		if apperror.KindOf(err) == apperror.KindInternal {
			s.logger.Error().Err(err).Int("count", len(plans)).Msg("bulk review transaction rolled back")
		}
		return dto.BulkReviewResponse{}, err
	}

	s.afterCommit(ctx, outcomes)

	response := dto.BulkReviewResponse{Items: make([]dto.ReviewResponse, 0, len(outcomes))}
	for _, outcome := range outcomes {
		response.Items = append(response.Items, outcome.response())
		response.TotalPoints += outcome.plan.awarded
	}
	span.SetAttributes(attribute.Int("review.total_points", response.TotalPoints))

	return response, nil
}

func (s *reviewService) authorizeOwner(ctx context.Context, userID uint) error {
	if actor, ok := access.FromContext(ctx); ok && actor.UserID != 0 && actor.UserID == userID {
		return apperror.Authorization("reviewers cannot review their own submissions")
	}
	owner, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("user %d not found", userID)
		}
		return err
	}
	if !access.CanAccessUser(ctx, owner.ID, owner.Cohort) {
		return apperror.Authorization("cohort %q is outside the reviewer's scope", owner.Cohort)
	}
	return nil
}

func (s *reviewService) plan(ctx context.Context, submission models.Submission, approve bool, adjustment *int, note *string) (reviewPlan, error) {
	plan := reviewPlan{submission: submission, approve: approve, note: note}
	if !approve {
		return plan, nil
	}

	activity, err := s.activities.Get(ctx, submission.ActivityCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reviewPlan{}, apperror.NotFound("activity %s not found", submission.ActivityCode)
		}
		return reviewPlan{}, err
	}

	base, err := s.policy.BasePoints(activity, submission.Payload)
	if err != nil {
		return reviewPlan{}, err
	}

	awarded, err := ApplyAdjustment(s.policy, base, adjustment)
	if err != nil {
		return reviewPlan{}, err
	}

	plan.basePoints = base
	plan.awarded = awarded
	if adjustment != nil {
		plan.adjustment = *adjustment
	}
	return plan, nil
}

// apply performs one transition inside tx: status update, ledger append, audit entry.
func (s *reviewService) apply(ctx context.Context, tx *gorm.DB, actor access.Context, plan reviewPlan) (reviewOutcome, error) {
	now := s.now().UTC()
	submission := plan.submission

	update := repository.ReviewUpdate{
		Status:     models.SubmissionStatusRejected,
		ReviewerID: actor.UserID,
		Note:       plan.note,
		At:         now,
	}
	if plan.approve {
		update.Status = models.SubmissionStatusApproved
		update.Visibility = models.VisibilityPublic
	}

	transitioned, err := s.submissions.WithTx(tx).TransitionFromPending(ctx, submission.ID, update)
	if err != nil {
		return reviewOutcome{}, err
	}
	if !transitioned {
		return reviewOutcome{}, apperror.Conflict("submission %d is no longer %s", submission.ID, models.SubmissionStatusPending)
	}

	submission.Status = update.Status
	if update.Visibility != "" {
		submission.Visibility = update.Visibility
	}
	reviewerID := actor.UserID
	submission.ReviewerID = &reviewerID
	submission.ReviewNote = plan.note
	submission.UpdatedAt = now
	plan.submission = submission

	outcome := reviewOutcome{plan: plan, at: now}
	action := models.AuditSubmissionRejected

	if plan.approve {
		action = models.AuditSubmissionApproved
		source := models.LedgerSourceForm
		if plan.adjustment != 0 {
			source = models.LedgerSourceManual
		}
		entry := models.PointsLedgerEntry{
			UserID:       submission.UserID,
			ActivityCode: submission.ActivityCode,
			DeltaPoints:  plan.awarded,
			Source:       source,
			SubmissionID: &submission.ID,
			EventTime:    now,
		}
		if err := s.ledger.WithTx(tx).Append(ctx, &entry); err != nil {
			return reviewOutcome{}, err
		}
		outcome.entry = &entry
	}

	meta := map[string]interface{}{
		"submission_id":  submission.ID,
		"user_id":        submission.UserID,
		"activity_code":  submission.ActivityCode,
		"points_awarded": plan.awarded,
	}
	if plan.approve {
		meta["base_points"] = plan.basePoints
		meta["point_adjustment"] = plan.adjustment
		meta["ledger_entry_id"] = outcome.entry.ID
	}
	if plan.note != nil {
		meta["note"] = *plan.note
	}

	entry, err := s.audit.Record(ctx, tx, AuditEntry{
		Actor:    actor,
		Action:   action,
		TargetID: uintTarget(submission.ID),
		Meta:     meta,
	})
	if err != nil {
		return reviewOutcome{}, err
	}
	outcome.auditID = entry.ID

	return outcome, nil
}

func (s *reviewService) afterCommit(ctx context.Context, outcomes []reviewOutcome) {
	events := make([]LedgerEvent, 0, len(outcomes))
	for _, outcome := range outcomes {
		action := dto.ReviewActionReject
		if outcome.plan.approve {
			action = dto.ReviewActionApprove
		}
		observability.ReviewTransitions().WithLabelValues(action).Inc()

		if outcome.entry == nil {
			continue
		}
		if outcome.entry.DeltaPoints > 0 {
			observability.PointsAwarded().WithLabelValues(outcome.entry.Source).Add(float64(outcome.entry.DeltaPoints))
		}
		events = append(events, LedgerEvent{
			UserID:       outcome.entry.UserID,
			ActivityCode: outcome.entry.ActivityCode,
			DeltaPoints:  outcome.entry.DeltaPoints,
			LedgerSource: outcome.entry.Source,
			EntryID:      outcome.entry.ID,
		})
	}
	if len(events) > 0 {
		s.events.Publish(ctx, events...)
	}
}

func (s *reviewService) sanitizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	clean := strings.TrimSpace(s.sanitizer.Sanitize(*note))
	if clean == "" {
		return nil
	}
	return &clean
}

func (o reviewOutcome) response() dto.ReviewResponse {
	response := dto.ReviewResponse{
		Submission:    dto.NewSubmissionResponse(o.plan.submission),
		PointsAwarded: o.plan.awarded,
		AuditEntryID:  o.auditID,
	}
	if o.entry != nil {
		id := o.entry.ID
		response.LedgerEntryID = &id
	}
	return response
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	result := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func joinIDs(ids []uint) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatUint(uint64(id), 10))
	}
	return strings.Join(parts, ", ")
}

func idDetails(ids []uint, message string) []apperror.Detail {
	details := make([]apperror.Detail, 0, len(ids))
	for _, id := range ids {
		details = append(details, apperror.Detail{Field: strconv.FormatUint(uint64(id), 10), Message: message})
	}
	return details
}
