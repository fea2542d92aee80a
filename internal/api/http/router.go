package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-bot/internal/api/http/handlers"
	"github.com/spec-kit/ticket-bot/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Panel          *handlers.PanelHandler
	Metrics        *handlers.MetricsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireScope(auth.ScopeAdmin))
	admin.Get("/tickets", cfg.Tickets.ListOpen)
	admin.Get("/tickets/:id", cfg.Tickets.Get)
	admin.Get("/tickets/:id/transcript", cfg.Tickets.Transcript)
	admin.Post("/panel/deploy", cfg.Panel.Deploy)
	admin.Get("/metrics", cfg.Metrics.Show)
}
