package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/httpx"
	"github.com/paysure/paysure/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type entryResponse struct {
	ID              string           `json:"id"`
	OperationID     string           `json:"operation_id"`
	Type            ledger.EntryType `json:"type"`
	Wallet          ledger.Wallet    `json:"wallet"`
	Direction       ledger.Direction `json:"direction"`
	Amount          string           `json:"amount"`
	PreviousBalance string           `json:"previous_balance"`
	NewBalance      string           `json:"new_balance"`
	ReferenceID     string           `json:"reference_id,omitempty"`
	Description     string           `json:"description"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Balances returns the caller's three balances and their total.
func (h *Handler) Balances(c *fiber.Ctx) error {
	b, err := h.service.Balances(c.UserContext(), userID(c))
	if err != nil {
		return httpx.FromService(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"deposit": ledger.Format(b.Deposit),
		"salary":  ledger.Format(b.Salary),
		"buffer":  ledger.Format(b.Buffer),
		"total":   ledger.Format(b.Total),
		"as_of":   b.AsOf,
	})
}

// Transactions returns ledger history. ?wallet= filters, ?limit= bounds it.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	entries, err := h.service.History(c.UserContext(), userID(c), ledger.Wallet(c.Query("wallet")), c.QueryInt("limit", defaultHistoryLimit))
	if errors.Is(err, ErrInvalidWallet) {
		return httpx.NewError(http.StatusBadRequest, "invalid_wallet", err.Error())
	}
	if err != nil {
		return httpx.FromService(err)
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:              e.ID,
			OperationID:     e.OperationID,
			Type:            e.Type,
			Wallet:          e.Wallet,
			Direction:       e.Direction,
			Amount:          ledger.Format(e.Amount),
			PreviousBalance: ledger.Format(e.PreviousBalance),
			NewBalance:      ledger.Format(e.NewBalance),
			ReferenceID:     e.ReferenceID,
			Description:     e.Description,
			CreatedAt:       e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"transactions": out})
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
