package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/auth"
)

// RegisterAuthRoutes wires the public authentication endpoints. Logout needs
// a token and is registered with the protected routes.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, loginLimiter fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/login", loginLimiter, h.Login)
	group.Post("/refresh", h.Refresh)
}
