package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/service"
	"github.com/noah-isme/elevate-api/internal/utils"
)

// ReviewHandler exposes reviewer transitions on submissions.
type ReviewHandler struct {
	service service.ReviewService
	logger  zerolog.Logger
}

// NewReviewHandler constructs the review handler.
func NewReviewHandler(service service.ReviewService, logger zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: service,
		logger:  logger.With().Str("component", "review_handler").Logger(),
	}
}

// Register attaches the review routes under an admin submissions group.
func (h *ReviewHandler) Register(router fiber.Router) {
	router.Patch("/:id/review", h.review)
	router.Post("/bulk-review", h.bulkReview)
}

func (h *ReviewHandler) review(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	var req dto.ReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.Review(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to review submission")
	}

	return utils.SendSuccess(c, "submission reviewed", response)
}

func (h *ReviewHandler) bulkReview(c *fiber.Ctx) error {
	var req dto.BulkReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.BulkReview(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to bulk review submissions")
	}

	return utils.SendSuccess(c, "submissions reviewed", response)
}
