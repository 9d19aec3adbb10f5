package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/utils"
)

// RequireRole ensures the bound access context holds at least min.
func RequireRole(min access.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ac, ok := access.FromContext(c.UserContext())
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if ac.Role < min {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}
