package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/chambalink/backend/internal/utils"
)

// AttachJWTLocals exposes the claims as typed locals: userId as uuid.UUID
// and role as a lower-cased string. Handlers read these instead of touching
// the claims struct.
func AttachJWTLocals() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals("claims").(*utils.Claims)
		if !ok || claims == nil || claims.UserID == uuid.Nil {
			return fiber.ErrUnauthorized
		}

		c.Locals("userId", claims.UserID)
		c.Locals("role", strings.ToLower(strings.TrimSpace(string(claims.Role))))

		return c.Next()
	}
}
