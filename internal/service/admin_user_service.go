package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/observability"
	"github.com/noah-isme/elevate-api/internal/repository"
)

// AdminUserService performs audited administrative mutations on users.
type AdminUserService interface {
	ChangeRole(ctx context.Context, userID uint, req dto.RoleChangeRequest) (dto.UserResponse, error)
	OverrideCohort(ctx context.Context, userID uint, req dto.CohortOverrideRequest) (dto.UserResponse, error)
	AwardBadge(ctx context.Context, userID uint, req dto.BadgeAwardRequest) (dto.BadgeResponse, error)
	ListBadges(ctx context.Context, userID uint) ([]dto.BadgeResponse, error)
	AdjustPoints(ctx context.Context, userID uint, req dto.PointsAdjustmentRequest) (dto.LedgerEntryResponse, error)
	Balance(ctx context.Context, userID uint) (dto.BalanceResponse, error)
}

// AdminUserDependencies groups the collaborators of the admin user service.
type AdminUserDependencies struct {
	Tx        repository.TxManager
	Users     repository.UserRepository
	Badges    repository.BadgeRepository
	Ledger    repository.LedgerRepository
	Audit     AuditRecorder
	Events    LedgerEventPublisher
	Validator *validator.Validate
	Logger    zerolog.Logger
}

type adminUserService struct {
	tx        repository.TxManager
	users     repository.UserRepository
	badges    repository.BadgeRepository
	ledger    repository.LedgerRepository
	audit     AuditRecorder
	events    LedgerEventPublisher
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAdminUserService constructs the admin user service.
func NewAdminUserService(deps AdminUserDependencies) AdminUserService {
	return &adminUserService{
		tx:        deps.Tx,
		users:     deps.Users,
		badges:    deps.Badges,
		ledger:    deps.Ledger,
		audit:     deps.Audit,
		events:    ledgerEventsOrNoop(deps.Events),
		validator: deps.Validator,
		logger:    deps.Logger.With().Str("component", "admin_user_service").Logger(),
	}
}

// ChangeRole sets a user's role. Callers cannot grant a role above their own,
// change their own role, or modify a user who outranks them.
func (s *adminUserService) ChangeRole(ctx context.Context, userID uint, req dto.RoleChangeRequest) (dto.UserResponse, error) {
	actor, err := access.RequireMinimumRole(ctx, access.RoleAdmin)
	if err != nil {
		return dto.UserResponse{}, err
	}
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if err := s.validator.Struct(req); err != nil {
		return dto.UserResponse{}, apperror.FromValidator(err)
	}

	target := access.ParseRole(req.Role)
	if target > actor.Role {
		return dto.UserResponse{}, apperror.Authorization("cannot grant %s as %s", target, actor.Role)
	}
	if actor.UserID != 0 && actor.UserID == userID {
		return dto.UserResponse{}, apperror.Authorization("cannot change your own role")
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return dto.UserResponse{}, err
	}
	previous := access.ParseRole(user.Role)
	if previous > actor.Role {
		return dto.UserResponse{}, apperror.Authorization("cannot modify a %s as %s", previous, actor.Role)
	}
	if previous == target {
		return dto.NewUserResponse(user), nil
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.users.WithTx(tx).UpdateFields(ctx, userID, map[string]interface{}{"role": target.String()}); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, AuditEntry{
			Actor:    actor,
			Action:   models.AuditUserRoleChanged,
			TargetID: uintTarget(userID),
			Meta: map[string]interface{}{
				"user_id": userID,
				"from":    previous.String(),
				"to":      target.String(),
			},
		})
		return err
	})
	if err != nil {
		return dto.UserResponse{}, s.mutationError(err, userID)
	}

	user.Role = target.String()
	s.logger.Info().Uint("user_id", userID).Str("from", previous.String()).Str("to", target.String()).Msg("user role changed")
	return dto.NewUserResponse(user), nil
}

// OverrideCohort moves a user to another cohort or school.
func (s *adminUserService) OverrideCohort(ctx context.Context, userID uint, req dto.CohortOverrideRequest) (dto.UserResponse, error) {
	actor, err := access.RequireMinimumRole(ctx, access.RoleAdmin)
	if err != nil {
		return dto.UserResponse{}, err
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.UserResponse{}, apperror.FromValidator(err)
	}
	if req.Cohort == nil && req.School == nil {
		return dto.UserResponse{}, apperror.Validation("cohort or school is required")
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return dto.UserResponse{}, err
	}

	fields := map[string]interface{}{}
	meta := map[string]interface{}{"user_id": userID}
	if req.Cohort != nil {
		cohort := strings.TrimSpace(*req.Cohort)
		fields["cohort"] = cohort
		meta["cohort_from"] = user.Cohort
		meta["cohort_to"] = cohort
		user.Cohort = cohort
	}
	if req.School != nil {
		school := strings.TrimSpace(*req.School)
		fields["school"] = school
		meta["school_from"] = user.School
		meta["school_to"] = school
		user.School = school
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.users.WithTx(tx).UpdateFields(ctx, userID, fields); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, AuditEntry{
			Actor:    actor,
			Action:   models.AuditUserCohortChanged,
			TargetID: uintTarget(userID),
			Meta:     meta,
		})
		return err
	})
	if err != nil {
		return dto.UserResponse{}, s.mutationError(err, userID)
	}

	return dto.NewUserResponse(user), nil
}

// AwardBadge grants a badge once per user.
func (s *adminUserService) AwardBadge(ctx context.Context, userID uint, req dto.BadgeAwardRequest) (dto.BadgeResponse, error) {
	actor, err := access.RequireMinimumRole(ctx, access.RoleAdmin)
	if err != nil {
		return dto.BadgeResponse{}, err
	}
	req.BadgeCode = strings.ToUpper(strings.TrimSpace(req.BadgeCode))
	if err := s.validator.Struct(req); err != nil {
		return dto.BadgeResponse{}, apperror.FromValidator(err)
	}
	if _, err := s.loadUser(ctx, userID); err != nil {
		return dto.BadgeResponse{}, err
	}

	badge := models.EarnedBadge{UserID: userID, BadgeCode: req.BadgeCode, AwardedBy: actor.UserID}
	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		badges := s.badges.WithTx(tx)
		exists, err := badges.Exists(ctx, userID, req.BadgeCode)
		if err != nil {
			return err
		}
		if exists {
			return apperror.Conflict("user %d already holds badge %s", userID, req.BadgeCode)
		}
		if err := badges.Create(ctx, &badge); err != nil {
			if repository.IsUniqueViolation(err) {
				return apperror.Conflict("user %d already holds badge %s", userID, req.BadgeCode)
			}
			return err
		}
		_, err = s.audit.Record(ctx, tx, AuditEntry{
			Actor:    actor,
			Action:   models.AuditBadgeAwarded,
			TargetID: uintTarget(userID),
			Meta: map[string]interface{}{
				"user_id":    userID,
				"badge_code": req.BadgeCode,
				"badge_id":   badge.ID,
			},
		})
		return err
	})
	if err != nil {
		return dto.BadgeResponse{}, s.mutationError(err, userID)
	}

	return dto.NewBadgeResponse(badge), nil
}

func (s *adminUserService) ListBadges(ctx context.Context, userID uint) ([]dto.BadgeResponse, error) {
	if _, err := s.readableUser(ctx, userID); err != nil {
		return nil, err
	}

	badges, err := s.badges.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	responses := make([]dto.BadgeResponse, 0, len(badges))
	for _, badge := range badges {
		responses = append(responses, dto.NewBadgeResponse(badge))
	}
	return responses, nil
}

// AdjustPoints appends a MANUAL ledger entry. The resulting balance may not go negative.
func (s *adminUserService) AdjustPoints(ctx context.Context, userID uint, req dto.PointsAdjustmentRequest) (dto.LedgerEntryResponse, error) {
	actor, err := access.RequireMinimumRole(ctx, access.RoleAdmin)
	if err != nil {
		return dto.LedgerEntryResponse{}, err
	}
	req.ActivityCode = strings.ToUpper(strings.TrimSpace(req.ActivityCode))
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return dto.LedgerEntryResponse{}, apperror.FromValidator(err)
	}
	if _, err := s.loadUser(ctx, userID); err != nil {
		return dto.LedgerEntryResponse{}, err
	}

	entry := models.PointsLedgerEntry{
		UserID:       userID,
		ActivityCode: req.ActivityCode,
		DeltaPoints:  req.Delta,
		Source:       models.LedgerSourceManual,
	}
	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		// Concurrent adjustments for one user serialise on the user row.
		if _, err := s.users.WithTx(tx).LockByID(ctx, userID); err != nil {
			return err
		}
		ledger := s.ledger.WithTx(tx)
		balance, err := ledger.SumByUser(ctx, userID)
		if err != nil {
			return err
		}
		if balance+int64(req.Delta) < 0 {
			return apperror.Validation("adjustment %+d would leave user %d with a negative balance of %d", req.Delta, userID, balance+int64(req.Delta))
		}
		if err := ledger.Append(ctx, &entry); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, AuditEntry{
			Actor:    actor,
			Action:   models.AuditPointsAdjusted,
			TargetID: uintTarget(userID),
			Meta: map[string]interface{}{
				"user_id":         userID,
				"activity_code":   req.ActivityCode,
				"delta_points":    req.Delta,
				"balance_before":  balance,
				"ledger_entry_id": entry.ID,
				"reason":          req.Reason,
			},
		})
		return err
	})
	if err != nil {
		return dto.LedgerEntryResponse{}, s.mutationError(err, userID)
	}

	if req.Delta > 0 {
		observability.PointsAwarded().WithLabelValues(models.LedgerSourceManual).Add(float64(req.Delta))
	}
	s.events.Publish(ctx, LedgerEvent{
		UserID:       userID,
		ActivityCode: req.ActivityCode,
		DeltaPoints:  req.Delta,
		LedgerSource: models.LedgerSourceManual,
		EntryID:      entry.ID,
	})
	s.logger.Info().Uint("user_id", userID).Int("delta", req.Delta).Uint("ledger_entry_id", entry.ID).Msg("manual points adjustment recorded")

	return dto.NewLedgerEntryResponse(entry), nil
}

// Balance returns the ledger sum and entries of a user within the caller's scope.
func (s *adminUserService) Balance(ctx context.Context, userID uint) (dto.BalanceResponse, error) {
	if _, err := s.readableUser(ctx, userID); err != nil {
		return dto.BalanceResponse{}, err
	}

	entries, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return dto.BalanceResponse{}, err
	}

	response := dto.BalanceResponse{UserID: userID, Entries: make([]dto.LedgerEntryResponse, 0, len(entries))}
	for _, entry := range entries {
		response.Total += int64(entry.DeltaPoints)
		response.Entries = append(response.Entries, dto.NewLedgerEntryResponse(entry))
	}
	return response, nil
}

func (s *adminUserService) readableUser(ctx context.Context, userID uint) (models.User, error) {
	if _, err := access.Current(ctx); err != nil {
		return models.User{}, err
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if !access.CanAccessUser(ctx, user.ID, user.Cohort) {
		return models.User{}, apperror.Authorization("user %d is outside the caller's scope", userID)
	}
	return user, nil
}

func (s *adminUserService) loadUser(ctx context.Context, userID uint) (models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, apperror.NotFound("user %d not found", userID)
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *adminUserService) mutationError(err error, userID uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound("user %d not found", userID)
	}
	if apperror.KindOf(err) == apperror.KindInternal {
		s.logger.Error().Err(err).Uint("user_id", userID).Msg("admin mutation failed")
	}
	return err
}
