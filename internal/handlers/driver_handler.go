package handlers

import (
	"foodorder/internal/models"
	"foodorder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// DriverHandler serves driver stats.
type DriverHandler struct {
	stats *services.DriverStatsAggregator
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(stats *services.DriverStatsAggregator) *DriverHandler {
	return &DriverHandler{stats: stats}
}

// RegisterRoutes registers the driver routes.
func (h *DriverHandler) RegisterRoutes(router fiber.Router) {
	driverRoutes := router.Group("/drivers")
	driverRoutes.Post("/stats/reconcile", h.HandleReconcileStats)
	driverRoutes.Get("/:id/stats", h.HandleGetStats)
}

// HandleGetStats returns the completed order count and earnings of a driver.
func (h *DriverHandler) HandleGetStats(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}

	stats, err := h.stats.GetDriverStats(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return respondError(c, err, "Could not retrieve driver stats")
	}
	return c.JSON(stats)
}

// HandleReconcileStats recomputes the stats of every driver. Admin only.
func (h *DriverHandler) HandleReconcileStats(c *fiber.Ctx) error {
	p, ok, err := principal(c)
	if !ok {
		return err
	}
	if !p.Is(models.RoleAdmin) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "Only admins may reconcile driver stats",
		})
	}

	stats, err := h.stats.ReconcileAll(c.UserContext())
	if err != nil {
		return respondError(c, err, "Could not reconcile driver stats")
	}
	return c.JSON(fiber.Map{
		"drivers": len(stats),
		"stats":   stats,
	})
}
