package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/service"
	"github.com/noah-isme/elevate-api/internal/utils"
)

// AuditHandler exposes the read-only audit trail.
type AuditHandler struct {
	service service.AuditService
	logger  zerolog.Logger
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(service service.AuditService, logger zerolog.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger.With().Str("component", "audit_handler").Logger(),
	}
}

// Register attaches audit routes to the router group.
func (h *AuditHandler) Register(router fiber.Router) {
	router.Get("", h.list)
}

func (h *AuditHandler) list(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	if page <= 0 {
		page = 1
	}

	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page size")
	}
	if pageSize <= 0 {
		pageSize = 25
	} else if pageSize > 200 {
		pageSize = 200
	}

	actorID, err := parseQueryUint(c, "actor_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid actor id")
	}

	req := dto.AuditListRequest{
		Page:     page,
		PageSize: pageSize,
		ActorID:  actorID,
		Action:   c.Query("action"),
		TargetID: c.Query("target_id"),
	}

	response, err := h.service.List(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list audit entries")
	}

	return utils.OK(c, response.Items, "audit entries", response.Pagination)
}
