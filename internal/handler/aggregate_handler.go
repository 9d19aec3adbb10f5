package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/service"
	"github.com/noah-isme/elevate-api/internal/utils"
)

// AggregateHandler serves leaderboards and metrics and drives refreshes.
type AggregateHandler struct {
	service service.AggregateService
	logger  zerolog.Logger
}

// NewAggregateHandler constructs the aggregate handler.
func NewAggregateHandler(service service.AggregateService, logger zerolog.Logger) *AggregateHandler {
	return &AggregateHandler{
		service: service,
		logger:  logger.With().Str("component", "aggregate_handler").Logger(),
	}
}

// RegisterPublic attaches read endpoints available to any authenticated caller.
func (h *AggregateHandler) RegisterPublic(router fiber.Router) {
	router.Get("/leaderboard", h.leaderboard)
	router.Get("/metrics/summary", h.metrics)
}

// RegisterAdmin attaches refresh and status endpoints.
func (h *AggregateHandler) RegisterAdmin(router fiber.Router) {
	router.Get("/status", h.status)
	router.Post("/refresh", h.refresh)
}

func (h *AggregateHandler) leaderboard(c *fiber.Ctx) error {
	req := dto.LeaderboardRequest{
		View:   c.Query("view"),
		Cohort: c.Query("cohort"),
		School: c.Query("school"),
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	req.Limit = limit

	response, err := h.service.Leaderboard(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to load leaderboard")
	}

	return utils.SendSuccess(c, "leaderboard retrieved", response)
}

func (h *AggregateHandler) metrics(c *fiber.Ctx) error {
	response, err := h.service.Metrics(c.UserContext())
	if err != nil {
		return respondError(c, h.logger, err, "failed to load metrics")
	}

	return utils.SendSuccess(c, "metrics retrieved", response)
}

func (h *AggregateHandler) status(c *fiber.Ctx) error {
	response, err := h.service.Status(c.UserContext())
	if err != nil {
		return respondError(c, h.logger, err, "failed to load aggregate status")
	}

	return utils.SendSuccess(c, "aggregate status retrieved", response)
}

func (h *AggregateHandler) refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	if views := c.Query("views"); views != "" {
		req.Views = append(req.Views, splitAndTrim(views)...)
	}

	results, err := h.service.Refresh(c.UserContext(), req.Views...)
	if err != nil {
		return respondError(c, h.logger, err, "failed to refresh aggregates")
	}

	status := fiber.StatusOK
	for _, result := range results {
		if !result.Success {
			status = fiber.StatusMultiStatus
			break
		}
	}
	return utils.SendSuccessWithStatus(c, status, "aggregates refreshed", results)
}
