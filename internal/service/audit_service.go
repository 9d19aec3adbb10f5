package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/middleware"
	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/repository"
)

// AuditEntry captures the details required to persist an audit entry.
type AuditEntry struct {
	Actor    access.Context
	Action   string
	TargetID string
	Meta     map[string]interface{}
}

// AuditRecorder writes audit entries inside the caller's transaction.
type AuditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry AuditEntry) (models.AuditLogEntry, error)
}

// AuditService exposes the audit trail to administrators.
type AuditService interface {
	AuditRecorder
	List(ctx context.Context, req dto.AuditListRequest) (dto.AuditListResponse, error)
}

type auditService struct {
	repo      repository.AuditRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewAuditService constructs the audit service.
func NewAuditService(repo repository.AuditRepository, validator *validator.Validate, logger zerolog.Logger) AuditService {
	return &auditService{
		repo:      repo,
		validator: validator,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "audit_service").Logger(),
	}
}

func (s *auditService) Record(ctx context.Context, tx *gorm.DB, entry AuditEntry) (models.AuditLogEntry, error) {
	action := strings.ToUpper(strings.TrimSpace(entry.Action))
	if action == "" {
		return models.AuditLogEntry{}, fmt.Errorf("audit action is required")
	}

	model := models.AuditLogEntry{
		ActorID:   entry.Actor.UserID,
		ActorRole: actorRole(entry.Actor),
		Action:    action,
		Meta:      s.sanitizeMeta(entry.Meta),
	}
	if target := strings.TrimSpace(entry.TargetID); target != "" {
		model.TargetID = &target
	}
	if correlation := middleware.CorrelationIDFromContext(ctx); correlation != "" {
		model.Meta["correlation_id"] = correlation
	}

	if err := s.repo.WithTx(tx).Create(ctx, &model); err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("failed to persist audit entry")
		return models.AuditLogEntry{}, err
	}

	return model, nil
}

func (s *auditService) List(ctx context.Context, req dto.AuditListRequest) (dto.AuditListResponse, error) {
	if _, err := access.RequireMinimumRole(ctx, access.RoleAdmin); err != nil {
		return dto.AuditListResponse{}, err
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.AuditListResponse{}, apperror.FromValidator(err)
	}

	filter := repository.AuditFilter{
		Page:     req.Page,
		PageSize: req.PageSize,
		Action:   strings.ToUpper(strings.TrimSpace(req.Action)),
		TargetID: strings.TrimSpace(req.TargetID),
	}
	if req.ActorID > 0 {
		filter.ActorID = &req.ActorID
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return dto.AuditListResponse{}, err
	}

	items := make([]dto.AuditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewAuditEntryResponse(entry))
	}

	return dto.AuditListResponse{
		Items:      items,
		Pagination: dto.NewPaginationMeta(req.Page, req.PageSize, total),
	}, nil
}

// sanitizeMeta masks contact details and strips markup from free text.
func (s *auditService) sanitizeMeta(meta map[string]interface{}) datatypes.JSONMap {
	sanitized := datatypes.JSONMap{}
	for key, value := range meta {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "email") || strings.Contains(lower, "token") {
			sanitized[key] = "***"
			continue
		}
		if text, ok := value.(string); ok {
			sanitized[key] = s.sanitizer.Sanitize(text)
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}

func actorRole(actor access.Context) string {
	if actor.IsSystem() {
		return "system"
	}
	return actor.Role.String()
}

func uintTarget(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
