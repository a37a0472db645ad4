package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/auth"
)

// JWTAuth validates bearer access tokens and checks the token version against
// the stored user.
func JWTAuth(tokens *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		user, err := tokens.Authorize(c.UserContext(), tokenStr)
		if err != nil {
			return auth.MapError(err)
		}

		c.Locals("user_id", user.ID)
		c.Locals("token_version", user.TokenVersion)
		return c.Next()
	}
}
