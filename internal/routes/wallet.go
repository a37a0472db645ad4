package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallet/balances", h.Balances)
	r.Get("/wallet/transactions", h.Transactions)
}
