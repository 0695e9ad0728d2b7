package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chambalink/backend/internal/utils"
)

// JWTFromCookie validates the session cookie and stores the parsed claims
// for the rest of the chain.
func JWTFromCookie(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Cookies("cl_token")
		if tokenStr == "" {
			return fiber.ErrUnauthorized
		}

		claims, err := utils.ParseJWT(secret, tokenStr)
		if err != nil {
			return fiber.ErrUnauthorized
		}

		c.Locals("claims", claims)
		return c.Next()
	}
}
