package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-bot/internal/api/dto"
	"github.com/spec-kit/ticket-bot/internal/domain"
)

// PanelDeployer publishes the category panel.
type PanelDeployer interface {
	Deploy(ctx context.Context) (*domain.Panel, error)
}

// PanelHandler serves panel administration.
type PanelHandler struct {
	panels PanelDeployer
}

// NewPanelHandler constructs handler.
func NewPanelHandler(panels PanelDeployer) *PanelHandler {
	return &PanelHandler{panels: panels}
}

// Deploy POST /admin/panel/deploy.
func (h *PanelHandler) Deploy(c *fiber.Ctx) error {
	panel, err := h.panels.Deploy(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPanelView(panel)})
}
