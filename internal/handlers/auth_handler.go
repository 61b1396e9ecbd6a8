package handlers

import (
	"foodorder/internal/models"
	"foodorder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AuthHandler issues tokens for other principals. Only admins may call it.
type AuthHandler struct {
	tokens *services.TokenService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(tokens *services.TokenService) *AuthHandler {
	return &AuthHandler{tokens: tokens}
}

// RegisterRoutes registers the authentication routes on a protected router.
func (h *AuthHandler) RegisterRoutes(router fiber.Router) {
	authRoutes := router.Group("/auth")
	authRoutes.Post("/tokens", h.HandleIssueToken)
}

// IssueTokenRequest represents the request body for issuing a token.
type IssueTokenRequest struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
}

// HandleIssueToken signs a token for the requested principal.
func (h *AuthHandler) HandleIssueToken(c *fiber.Ctx) error {
	caller, ok, err := principal(c)
	if !ok {
		return err
	}
	if !caller.Is(models.RoleAdmin) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "Only admins may issue tokens",
		})
	}

	var req IssueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}

	token, err := h.tokens.IssueToken(models.Principal{UserID: req.UserID, Role: req.Role})
	if err != nil {
		return respondError(c, err, "Could not issue token")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token": token,
	})
}
