package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/service"
)

const ledgerStreamBuffer = 64

// LedgerStreamHandler pushes committed ledger events to admin dashboards over a websocket.
type LedgerStreamHandler struct {
	events service.LedgerEventPublisher
	logger zerolog.Logger
}

// NewLedgerStreamHandler constructs the ledger stream handler.
func NewLedgerStreamHandler(events service.LedgerEventPublisher, logger zerolog.Logger) *LedgerStreamHandler {
	return &LedgerStreamHandler{
		events: events,
		logger: logger.With().Str("component", "ledger_stream_handler").Logger(),
	}
}

// Register binds the websocket upgrade under the provided router group.
func (h *LedgerStreamHandler) Register(router fiber.Router) {
	router.Use("/ledger", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", c.UserContext())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ledger", websocket.New(h.stream))
}

func (h *LedgerStreamHandler) stream(conn *websocket.Conn) {
	base, _ := conn.Locals("request_ctx").(context.Context)
	if base == nil {
		base = context.Background()
	}

	actor, err := access.RequireMinimumRole(base, access.RoleAdmin)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "admin role required"))
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(base)
	defer cancel()

	updates := make(chan service.LedgerEvent, ledgerStreamBuffer)
	err = h.events.Subscribe(ctx, func(event service.LedgerEvent) {
		select {
		case updates <- event:
		default:
			h.logger.Warn().Uint("user_id", actor.UserID).Msg("ledger stream client is slow, dropping event")
		}
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to subscribe to ledger events")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "ledger events unavailable"))
		_ = conn.Close()
		return
	}

	// The read loop only detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info().Uint("user_id", actor.UserID).Msg("ledger stream connected")
	defer h.logger.Info().Uint("user_id", actor.UserID).Msg("ledger stream disconnected")

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-updates:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
