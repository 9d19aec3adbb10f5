package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/elevate-api/internal/access"
)

// RateLimit limits requests per authenticated user, or per client IP for
// unauthenticated callers such as webhook senders.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if ac, ok := access.FromContext(c.UserContext()); ok && ac.UserID != 0 {
				return fmt.Sprintf("%s:user:%d", identifier, ac.UserID)
			}
			return fmt.Sprintf("%s:ip:%s", identifier, c.IP())
		},
	})
}
