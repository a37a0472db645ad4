package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/salary"
)

// RegisterSalaryRoutes wires salary computation and payout endpoints.
func RegisterSalaryRoutes(r fiber.Router, h *salary.Handler, idempotent fiber.Handler) {
	group := r.Group("/salary")
	group.Post("/run", idempotent, h.Run)
	group.Get("/payouts", h.History)
	group.Get("/upcoming", h.Upcoming)
	group.Post("/payouts/:id/execute", idempotent, h.Execute)
	group.Post("/payouts/:id/reseed", idempotent, h.Reseed)
}
