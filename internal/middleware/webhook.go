package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/elevate-api/internal/utils"
)

// WebhookSecretHeader carries the shared secret of webhook senders.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret rejects requests whose shared secret header does not match.
func WebhookSecret(secret string) fiber.Handler {
	expected := []byte(secret)
	return func(c *fiber.Ctx) error {
		provided := strings.TrimSpace(c.Get(WebhookSecretHeader))
		if provided == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "webhook secret missing")
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid webhook secret")
		}
		return c.Next()
	}
}
