package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// RequireRoles gates a route to the given roles. It reads the "role" local
// set by AttachJWTLocals, so it must come after that middleware in the chain.
func RequireRoles(allowed ...string) fiber.Handler {
	allowedSet := map[string]bool{}
	for _, r := range allowed {
		allowedSet[strings.ToLower(r)] = true
	}

	return func(c *fiber.Ctx) error {
		role, ok := c.Locals("role").(string)
		if !ok || role == "" {
			return fiber.ErrUnauthorized
		}

		if !allowedSet[role] {
			return fiber.NewError(fiber.StatusForbidden, "forbidden: insufficient role")
		}

		return c.Next()
	}
}
