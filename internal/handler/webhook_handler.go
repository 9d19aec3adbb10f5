package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/service"
	"github.com/noah-isme/elevate-api/internal/utils"
)

// WebhookHandler receives completion events and exposes reconciliation to admins.
type WebhookHandler struct {
	service service.IngestService
	logger  zerolog.Logger
}

// NewWebhookHandler constructs the webhook handler.
func NewWebhookHandler(service service.IngestService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		logger:  logger.With().Str("component", "webhook_handler").Logger(),
	}
}

// RegisterPublic attaches the delivery endpoint. The group must enforce the shared secret.
func (h *WebhookHandler) RegisterPublic(router fiber.Router) {
	router.Post("/completions", h.ingest)
}

// RegisterAdmin attaches the reconciliation endpoints.
func (h *WebhookHandler) RegisterAdmin(router fiber.Router) {
	router.Get("/unmatched", h.listUnmatched)
	router.Post("/:id/reconcile", h.reconcile)
}

func (h *WebhookHandler) ingest(c *fiber.Ctx) error {
	event, err := h.service.Parse(c.Body())
	if err != nil {
		return respondError(c, h.logger, err, "invalid completion event")
	}

	result, err := h.service.Ingest(c.UserContext(), event)
	if err != nil {
		return respondError(c, h.logger, err, "failed to ingest completion event")
	}

	status := fiber.StatusOK
	switch result.Status {
	case dto.IngestStatusProcessed:
		status = fiber.StatusCreated
	case dto.IngestStatusUnmatched:
		status = fiber.StatusAccepted
	}
	return utils.SendSuccessWithStatus(c, status, "event "+result.Status, result)
}

func (h *WebhookHandler) listUnmatched(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	events, err := h.service.ListUnmatched(c.UserContext(), limit)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list unmatched events")
	}

	return utils.SendSuccess(c, "unmatched events retrieved", events)
}

func (h *WebhookHandler) reconcile(c *fiber.Ctx) error {
	eventID := c.Params("id")
	if eventID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "event id is required")
	}

	var req dto.ReconcileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Reconcile(c.UserContext(), eventID, req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to reconcile event")
	}

	return utils.SendSuccess(c, "event reconciled", result)
}
