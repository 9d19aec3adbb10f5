package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/config"
	"github.com/noah-isme/elevate-api/internal/handler"
	"github.com/noah-isme/elevate-api/internal/middleware"
	"github.com/noah-isme/elevate-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler *handler.SubmissionHandler
	ReviewHandler     *handler.ReviewHandler
	WebhookHandler    *handler.WebhookHandler
	AggregateHandler  *handler.AggregateHandler
	AuditHandler      *handler.AuditHandler
	AdminUserHandler  *handler.AdminUserHandler
	LedgerStream      *handler.LedgerStreamHandler
	HealthProbes      map[string]handler.HealthProbe
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	// Webhook deliveries authenticate with the shared secret, not a user token.
	if deps.WebhookHandler != nil {
		hooks := api.Group("/webhooks",
			middleware.WebhookSecret(cfg.WebhookSecret),
			middleware.RateLimit("webhooks", 120, time.Minute),
		)
		deps.WebhookHandler.RegisterPublic(hooks)
	}

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}

	reviewer := []fiber.Handler{jwtMiddleware, middleware.RequireRole(access.RoleReviewer)}
	admin := []fiber.Handler{jwtMiddleware, middleware.RequireRole(access.RoleAdmin)}

	if deps.ReviewHandler != nil {
		deps.ReviewHandler.Register(api.Group("/admin/submissions", reviewer...))
	}
	if deps.WebhookHandler != nil {
		deps.WebhookHandler.RegisterAdmin(api.Group("/admin/webhooks", admin...))
	}
	if deps.AggregateHandler != nil {
		deps.AggregateHandler.RegisterAdmin(api.Group("/admin/aggregates", admin...))
	}
	if deps.AuditHandler != nil {
		deps.AuditHandler.Register(api.Group("/admin/audit", admin...))
	}
	if deps.AdminUserHandler != nil {
		deps.AdminUserHandler.RegisterAdmin(api.Group("/admin/users", admin...))
	}
	if deps.LedgerStream != nil {
		deps.LedgerStream.Register(api.Group("/admin/stream", admin...))
	}

	// Registered last: the empty-prefix group applies its middleware to everything after it.
	authed := api.Group("", jwtMiddleware, middleware.RequireRole(access.RoleParticipant))
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(authed.Group("/submissions", middleware.RateLimit("submissions", 30, time.Minute)))
	}
	if deps.AggregateHandler != nil {
		deps.AggregateHandler.RegisterPublic(authed)
	}
	if deps.AdminUserHandler != nil {
		deps.AdminUserHandler.RegisterPublic(authed.Group("/users"))
	}
}
