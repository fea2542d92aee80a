package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-bot/internal/observability"
)

// MetricsReader exposes the in-process counters.
type MetricsReader interface {
	Snapshot() observability.Snapshot
}

// MetricsHandler serves the counters to operators.
type MetricsHandler struct {
	metrics MetricsReader
}

// NewMetricsHandler constructs handler.
func NewMetricsHandler(metrics MetricsReader) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Show GET /admin/metrics.
func (h *MetricsHandler) Show(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.metrics.Snapshot()})
}
