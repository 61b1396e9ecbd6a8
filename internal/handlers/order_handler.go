package handlers

import (
	"errors"
	"strings"

	"foodorder/internal/models"
	"foodorder/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// HeaderIdempotencyKey lets clients retry a checkout without creating a
// second order. It takes precedence over the body field.
const HeaderIdempotencyKey = "Idempotency-Key"

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service *services.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService) *OrderHandler {
	return &OrderHandler{
		service: service,
	}
}

// RegisterRoutes registers the order routes with the Fiber app.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleListOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Post("/", h.HandleCreateOrder)
	orderRoutes.Patch("/:id/status", h.HandleUpdateOrderStatus)
	orderRoutes.Post("/:id/cancel", h.HandleCancelOrder)
}

// HandleListOrders lists the caller's orders. Non-admin callers only ever
// see their own orders regardless of the query.
func (h *OrderHandler) HandleListOrders(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}

	filter := models.OrderFilter{
		CustomerID:   c.Query("customer_id"),
		RestaurantID: c.Query("restaurant_id"),
		DriverID:     c.Query("driver_id"),
		Limit:        c.QueryInt("limit", 0),
		Offset:       c.QueryInt("offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		parts := lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))
		filter.Statuses = lo.Map(parts, func(s string, _ int) models.OrderStatus {
			return models.OrderStatus(s)
		})
	}

	orders, err := h.service.ListOrders(c.UserContext(), p, filter)
	if err != nil {
		return respondError(c, err, "Could not retrieve orders")
	}
	return c.JSON(orders)
}

// HandleGetOrderByID retrieves a single order by its ID.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}

	order, err := h.service.GetOrder(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return respondError(c, err, "Could not retrieve order")
	}
	return c.JSON(order)
}

// HandleCreateOrder places a new order.
func (h *OrderHandler) HandleCreateOrder(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}

	var req services.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if key := c.Get(HeaderIdempotencyKey); key != "" {
		req.IdempotencyKey = key
	}

	order, err := h.service.CreateOrder(c.UserContext(), p, req)
	if err != nil {
		return respondError(c, err, "Could not create order")
	}
	log.Info().Str("order_id", order.ID).Str("customer_id", order.CustomerID).Msg("order placed")
	return c.Status(fiber.StatusCreated).JSON(order)
}

// UpdateStatusRequest is the body of a status change.
type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status"`
}

// HandleUpdateOrderStatus moves an order along its lifecycle.
func (h *OrderHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}

	var req UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}

	order, err := h.service.UpdateOrderStatus(c.UserContext(), p, c.Params("id"), req.Status)
	if err != nil {
		return h.respondWithOrder(c, order, err, "Could not update order status")
	}
	return c.JSON(order)
}

// HandleCancelOrder cancels an order and refunds its payment if needed.
func (h *OrderHandler) HandleCancelOrder(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}

	order, err := h.service.CancelOrder(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return h.respondWithOrder(c, order, err, "Could not cancel order")
	}
	return c.JSON(order)
}

// respondWithOrder reports a failed refund together with the order, which
// is canceled even though the money has not gone back yet.
func (h *OrderHandler) respondWithOrder(c *fiber.Ctx, order *models.Order, err error, message string) error {
	if order == nil || !errors.Is(err, services.ErrRefundFailed) {
		return respondError(c, err, message)
	}
	log.Error().Err(err).Str("order_id", order.ID).Msg("order canceled but refund failed")
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
		"message": "Order canceled but refund failed; it will be retried",
		"error":   err.Error(),
		"order":   order,
	})
}
