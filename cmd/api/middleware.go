package main

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/yatttiiii/ThaparKart/internal/auth"
)

// localClaims is the fiber Locals key under which requireAuth stores the
// verified token claims.
const localClaims = "authClaims"

// requireAuth validates the bearer token and stashes the claims in the
// request locals for the handlers downstream.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}

	claims, err := s.auth.VerifyToken(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
	}

	c.Locals(localClaims, claims)
	return c.Next()
}

// claimsFromCtx extracts the auth claims stored by requireAuth, if present.
func claimsFromCtx(c *fiber.Ctx) (*auth.Claims, bool) {
	claims, ok := c.Locals(localClaims).(*auth.Claims)
	return claims, ok
}
