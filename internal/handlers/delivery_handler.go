package handlers

import (
	"foodorder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// DeliveryHandler handles the driver side of an order.
type DeliveryHandler struct {
	service *services.DeliveryService
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(service *services.DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{service: service}
}

// RegisterRoutes registers the delivery routes.
func (h *DeliveryHandler) RegisterRoutes(router fiber.Router) {
	deliveryRoutes := router.Group("/deliveries")
	deliveryRoutes.Get("/available", h.HandleListAvailable)
	deliveryRoutes.Post("/:id/assign", h.HandleAssignDriver)
	deliveryRoutes.Post("/:id/complete", h.HandleCompleteDelivery)
}

// DriverRequest names the driver an admin acts for. Drivers may omit it.
type DriverRequest struct {
	DriverID string `json:"driver_id"`
}

// driverFor resolves the acting driver: the body wins, then the caller.
func driverFor(c *fiber.Ctx, callerID string) (string, error) {
	var req DriverRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return "", err
		}
	}
	if req.DriverID == "" {
		return callerID, nil
	}
	return req.DriverID, nil
}

// HandleListAvailable lists unclaimed orders that are ready to go out.
func (h *DeliveryHandler) HandleListAvailable(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}

	orders, err := h.service.ListAvailableDeliveries(c.UserContext(), p, c.QueryInt("limit", 0), c.QueryInt("offset", 0))
	if err != nil {
		return respondError(c, err, "Could not retrieve deliveries")
	}
	return c.JSON(orders)
}

// HandleAssignDriver claims an order for a driver.
func (h *DeliveryHandler) HandleAssignDriver(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}
	driverID, err := driverFor(c, p.UserID)
	if err != nil {
		return badRequest(c, err)
	}

	order, err := h.service.AssignDriver(c.UserContext(), p, c.Params("id"), driverID)
	if err != nil {
		return respondError(c, err, "Could not assign driver")
	}
	return c.JSON(order)
}

// HandleCompleteDelivery marks an order delivered.
func (h *DeliveryHandler) HandleCompleteDelivery(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}
	driverID, err := driverFor(c, p.UserID)
	if err != nil {
		return badRequest(c, err)
	}

	order, err := h.service.CompleteDelivery(c.UserContext(), p, c.Params("id"), driverID)
	if err != nil {
		return respondError(c, err, "Could not complete delivery")
	}
	return c.JSON(order)
}
