package services

import (
	"fmt"
	"time"

	"foodorder/internal/models"

	"github.com/dgrijalva/jwt-go"
)

// TokenService issues and validates the JWTs that carry a Principal.
type TokenService struct {
	jwtSecret  []byte
	tokenDurat time.Duration
}

// NewTokenService creates a new TokenService.
func NewTokenService(jwtSecret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		jwtSecret:  []byte(jwtSecret),
		tokenDurat: ttl,
	}
}

// IssueToken signs a token for principal.
func (s *TokenService) IssueToken(principal models.Principal) (string, error) {
	if principal.UserID == "" {
		return "", newValidationError("user_id", "is required")
	}
	if !validRole(principal.Role) {
		return "", newValidationError("role", fmt.Sprintf("unknown role %q", principal.Role))
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  principal.UserID,
		"role": string(principal.Role),
		"exp":  now.Add(s.tokenDurat).Unix(),
		"iat":  now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a token, returning its principal.
func (s *TokenService) ValidateToken(tokenString string) (models.Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return models.Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Principal{}, fmt.Errorf("invalid token")
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	principal := models.Principal{UserID: sub, Role: models.Role(role)}
	if principal.UserID == "" || !validRole(principal.Role) {
		return models.Principal{}, fmt.Errorf("invalid token: missing subject or role")
	}
	return principal, nil
}

func validRole(r models.Role) bool {
	switch r {
	case models.RoleCustomer, models.RoleRestaurant, models.RoleDriver, models.RoleAdmin:
		return true
	}
	return false
}
