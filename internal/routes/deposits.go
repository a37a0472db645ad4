package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/deposit"
)

// RegisterDepositCallback wires the public Daraja result URL.
func RegisterDepositCallback(r fiber.Router, h *deposit.Handler) {
	r.Post("/deposits/mpesa-callback", h.Callback)
}

// RegisterDepositRoutes wires the authenticated deposit endpoints.
func RegisterDepositRoutes(r fiber.Router, h *deposit.Handler, idempotent fiber.Handler) {
	r.Post("/deposits", idempotent, h.Create)
	r.Get("/deposits", h.List)
	r.Get("/deposits/stats", h.Stats)
	r.Get("/deposits/:id", h.Get)
}
