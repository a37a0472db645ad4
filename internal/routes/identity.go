package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/identity"
)

// RegisterIdentityRoutes wires OTP issue and registration. Registration opens
// the user's ledger account.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler, otpLimiter fiber.Handler) {
	r.Post("/auth/otp", otpLimiter, h.RequestOTP)
	r.Post("/identity/register", h.Register)
}
