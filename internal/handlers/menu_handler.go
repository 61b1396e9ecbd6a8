package handlers

import (
	"foodorder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// MenuHandler lets restaurants maintain the prices orders are charged at.
type MenuHandler struct {
	service *services.MenuService
}

// NewMenuHandler creates a new MenuHandler.
func NewMenuHandler(service *services.MenuService) *MenuHandler {
	return &MenuHandler{service: service}
}

// RegisterRoutes registers the catalog routes.
func (h *MenuHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/restaurants/:id/menu-items", h.HandleCreateMenuItem)
}

// HandleCreateMenuItem adds an item to a restaurant's catalog.
func (h *MenuHandler) HandleCreateMenuItem(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}

	var in services.MenuItemInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, err)
	}

	item, err := h.service.CreateMenuItem(c.UserContext(), p, c.Params("id"), in)
	if err != nil {
		return respondError(c, err, "Could not create menu item")
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}
