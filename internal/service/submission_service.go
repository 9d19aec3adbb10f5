package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/repository"
)

const (
	defaultSubmissionPageSize = 20
	maxPayloadBytes           = 64 << 10
)

// SubmissionService handles participant intake and scoped listings.
type SubmissionService interface {
	Submit(ctx context.Context, req dto.SubmissionCreateRequest) (dto.SubmissionResponse, error)
	List(ctx context.Context, req dto.SubmissionListRequest) (dto.SubmissionListResponse, error)
}

type submissionService struct {
	tx          repository.TxManager
	submissions repository.SubmissionRepository
	activities  repository.ActivityRepository
	policy      PointsPolicy
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(tx repository.TxManager, submissions repository.SubmissionRepository, activities repository.ActivityRepository, policy PointsPolicy, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		tx:          tx,
		submissions: submissions,
		activities:  activities,
		policy:      policy,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
	}
}

// Submit records a PENDING submission for the caller. Activities with a quota
// reject further submissions once the caller holds that many non-rejected ones.
func (s *submissionService) Submit(ctx context.Context, req dto.SubmissionCreateRequest) (dto.SubmissionResponse, error) {
	actor, err := access.RequireMinimumRole(ctx, access.RoleParticipant)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if actor.UserID == 0 {
		return dto.SubmissionResponse{}, apperror.Authorization("submissions require a user identity")
	}

	req.ActivityCode = strings.ToUpper(strings.TrimSpace(req.ActivityCode))
	if err := s.validator.Struct(req); err != nil {
		return dto.SubmissionResponse{}, apperror.FromValidator(err)
	}

	payload, err := normalizePayload(req.Payload)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	activity, err := s.activities.Get(ctx, req.ActivityCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, apperror.NotFound("activity %s not found", req.ActivityCode)
		}
		return dto.SubmissionResponse{}, err
	}
	if _, err := s.policy.BasePoints(activity, payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		UserID:       actor.UserID,
		ActivityCode: activity.Code,
		Status:       models.SubmissionStatusPending,
		Visibility:   models.VisibilityPrivate,
		Payload:      payload,
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.submissions.WithTx(tx)
		if activity.HasQuota() {
			count, err := repo.CountByUserAndActivity(ctx, actor.UserID, activity.Code)
			if err != nil {
				return err
			}
			if count >= int64(activity.MaxSubmissions) {
				return apperror.Conflict("submission limit of %d reached for %s", activity.MaxSubmissions, activity.Code)
			}
		}
		return repo.Create(ctx, &submission)
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			s.logger.Error().Err(err).Uint("user_id", actor.UserID).Str("activity_code", activity.Code).Msg("failed to create submission")
		}
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().Uint("submission_id", submission.ID).Uint("user_id", actor.UserID).Str("activity_code", activity.Code).Msg("submission received")
	return dto.NewSubmissionResponse(submission), nil
}

// List scopes the listing by role: participants see their own submissions,
// reviewers their cohort, admins everything.
func (s *submissionService) List(ctx context.Context, req dto.SubmissionListRequest) (dto.SubmissionListResponse, error) {
	actor, err := access.RequireMinimumRole(ctx, access.RoleParticipant)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}

	req.Status = strings.ToUpper(strings.TrimSpace(req.Status))
	req.ActivityCode = strings.ToUpper(strings.TrimSpace(req.ActivityCode))
	if err := s.validator.Struct(req); err != nil {
		return dto.SubmissionListResponse{}, apperror.FromValidator(err)
	}

	filter := repository.SubmissionFilter{
		ActivityCode: req.ActivityCode,
		Status:       req.Status,
		Cohort:       strings.TrimSpace(req.Cohort),
		School:       strings.TrimSpace(req.School),
		Page:         req.Page,
		PageSize:     req.PageSize,
	}
	if req.UserID != 0 {
		userID := req.UserID
		filter.UserID = &userID
	}

	switch {
	case actor.Role >= access.RoleAdmin:
	case actor.Role == access.RoleReviewer:
		if actor.Cohort == "" {
			return dto.SubmissionListResponse{}, apperror.Authorization("reviewer has no cohort assigned")
		}
		if filter.Cohort != "" && !access.CanAccessCohort(ctx, filter.Cohort) {
			return dto.SubmissionListResponse{}, apperror.Authorization("cohort %s is outside the caller's scope", filter.Cohort)
		}
		filter.Cohort = actor.Cohort
	default:
		if filter.UserID != nil && *filter.UserID != actor.UserID {
			return dto.SubmissionListResponse{}, apperror.Authorization("participants may only list their own submissions")
		}
		own := actor.UserID
		filter.UserID = &own
	}

	if filter.PageSize <= 0 {
		filter.PageSize = defaultSubmissionPageSize
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	submissions, total, err := s.submissions.List(ctx, filter)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}

	return dto.SubmissionListResponse{
		Items:      dto.NewSubmissionResponseSlice(submissions),
		Pagination: dto.NewPaginationMeta(filter.Page, filter.PageSize, total),
	}, nil
}

// normalizePayload requires a JSON object, defaulting an empty body to {}.
func normalizePayload(raw json.RawMessage) (datatypes.JSON, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return datatypes.JSON("{}"), nil
	}
	if len(trimmed) > maxPayloadBytes {
		return nil, apperror.Validation("payload exceeds %d bytes", maxPayloadBytes)
	}

	var object map[string]interface{}
	if err := json.Unmarshal(trimmed, &object); err != nil {
		return nil, apperror.Validation("payload must be a JSON object")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, apperror.Validation("payload must be a JSON object")
	}
	return datatypes.JSON(compact.Bytes()), nil
}
