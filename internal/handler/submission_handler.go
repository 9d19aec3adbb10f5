package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/service"
	"github.com/noah-isme/elevate-api/internal/utils"
)

// SubmissionHandler manages participant submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("", h.create)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	req := dto.SubmissionListRequest{
		ActivityCode: c.Query("activity_code"),
		Status:       c.Query("status"),
		Cohort:       c.Query("cohort"),
		School:       c.Query("school"),
	}

	var err error
	if req.UserID, err = parseQueryUint(c, "user_id"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user_id")
	}
	if req.Page, err = parseQueryInt(c, "page"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	if req.PageSize, err = parseQueryInt(c, "page_size"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page_size")
	}

	response, err := h.service.List(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list submissions")
	}

	return utils.OK(c, response.Items, "submissions retrieved", response.Pagination)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	var req dto.SubmissionCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.Submit(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to create submission")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission created", submission)
}
