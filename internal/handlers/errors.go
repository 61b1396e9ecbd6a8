package handlers

import (
	"errors"

	"foodorder/internal/middleware"
	"foodorder/internal/models"
	"foodorder/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrAlreadyAssigned),
		errors.Is(err, services.ErrNotEligible),
		errors.Is(err, services.ErrNotAssigned),
		errors.Is(err, services.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrPayment):
		return fiber.StatusPaymentRequired
	case errors.Is(err, services.ErrRefundFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error, message string) error {
	status := statusFor(err)
	body := fiber.Map{
		"message": message,
		"error":   err.Error(),
	}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		body["errors"] = verr.Fields
	}
	var cerr *services.ConflictError
	if errors.As(err, &cerr) && cerr.Current != nil {
		body["current_status"] = cerr.Current.Status
	}
	var perr *services.PersistenceError
	if errors.As(err, &perr) {
		body["compensated"] = perr.Compensated
	}

	if status >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg(message)
	} else {
		log.Debug().Err(err).Str("path", c.Path()).Int("status", status).Msg(message)
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid request body",
		"error":   err.Error(),
	})
}

// principal returns the authenticated caller or writes a 401.
func principal(c *fiber.Ctx) (models.Principal, bool, error) {
	p, ok := middleware.Principal(c)
	if !ok {
		return p, false, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message": "Authentication required",
		})
	}
	return p, true, nil
}
