package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/service"
	"github.com/noah-isme/elevate-api/internal/utils"
)

// AdminUserHandler exposes audited user mutations.
type AdminUserHandler struct {
	service service.AdminUserService
	logger  zerolog.Logger
}

// NewAdminUserHandler constructs the handler.
func NewAdminUserHandler(service service.AdminUserService, logger zerolog.Logger) *AdminUserHandler {
	return &AdminUserHandler{
		service: service,
		logger:  logger.With().Str("component", "admin_user_handler").Logger(),
	}
}

// RegisterAdmin attaches the mutation routes.
func (h *AdminUserHandler) RegisterAdmin(router fiber.Router) {
	router.Patch("/:id/role", h.changeRole)
	router.Patch("/:id/cohort", h.overrideCohort)
	router.Post("/:id/badges", h.awardBadge)
	router.Post("/:id/points", h.adjustPoints)
}

// RegisterPublic attaches scoped read routes.
func (h *AdminUserHandler) RegisterPublic(router fiber.Router) {
	router.Get("/:id/points", h.balance)
	router.Get("/:id/badges", h.badges)
}

func (h *AdminUserHandler) changeRole(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user id")
	}
	var req dto.RoleChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.service.ChangeRole(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to change role")
	}
	return utils.SendSuccess(c, "role updated", user)
}

func (h *AdminUserHandler) overrideCohort(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user id")
	}
	var req dto.CohortOverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.service.OverrideCohort(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to override cohort")
	}
	return utils.SendSuccess(c, "cohort updated", user)
}

func (h *AdminUserHandler) awardBadge(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user id")
	}
	var req dto.BadgeAwardRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	badge, err := h.service.AwardBadge(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to award badge")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "badge awarded", badge)
}

func (h *AdminUserHandler) badges(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user id")
	}

	badges, err := h.service.ListBadges(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list badges")
	}
	return utils.SendSuccess(c, "badges retrieved", badges)
}

func (h *AdminUserHandler) adjustPoints(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user id")
	}
	var req dto.PointsAdjustmentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	entry, err := h.service.AdjustPoints(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to adjust points")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "points adjusted", entry)
}

func (h *AdminUserHandler) balance(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user id")
	}

	balance, err := h.service.Balance(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to load balance")
	}
	return utils.SendSuccess(c, "balance retrieved", balance)
}
