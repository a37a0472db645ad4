package deposit

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/httpx"
	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/mpesa"
)

// Handler exposes deposit endpoints and the Daraja result callback.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a deposit HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

type createRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type depositResponse struct {
	DepositID         string     `json:"deposit_id"`
	Amount            string     `json:"amount"`
	Phone             string     `json:"phone"`
	Status            Status     `json:"status"`
	CheckoutRequestID string     `json:"checkout_request_id"`
	ReceiptNumber     string     `json:"receipt_number,omitempty"`
	ResultDesc        string     `json:"result_desc,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func toResponse(d Deposit) depositResponse {
	return depositResponse{
		DepositID:         d.ID,
		Amount:            ledger.Format(d.Amount),
		Phone:             d.Phone,
		Status:            d.Status,
		CheckoutRequestID: d.CheckoutRequestID,
		ReceiptNumber:     d.ReceiptNumber,
		ResultDesc:        d.ResultDesc,
		CreatedAt:         d.CreatedAt,
		CompletedAt:       d.CompletedAt,
	}
}

// Create starts an STK push for the authenticated user.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	d, err := h.service.RequestDeposit(c.UserContext(), userID(c), req.Amount)
	if err != nil {
		return httpx.FromService(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(d))
}

// Get returns one deposit, so clients can poll a pending one.
func (h *Handler) Get(c *fiber.Ctx) error {
	d, err := h.service.Get(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return httpx.FromService(err)
	}
	return c.JSON(toResponse(d))
}

// List returns the user's deposits, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	page, err := h.service.List(c.UserContext(), userID(c), c.QueryInt("page", 1), c.QueryInt("limit", defaultPageSize))
	if err != nil {
		return httpx.FromService(err)
	}
	items := make([]depositResponse, 0, len(page.Deposits))
	for _, d := range page.Deposits {
		items = append(items, toResponse(d))
	}
	return c.JSON(fiber.Map{
		"deposits": items,
		"page":     page.Page,
		"limit":    page.Limit,
		"total":    page.Total,
	})
}

// Stats summarises completed deposits.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext(), userID(c), time.Now())
	if err != nil {
		return httpx.FromService(err)
	}
	return c.JSON(fiber.Map{
		"today":          fiber.Map{"total": ledger.Format(stats.TodayTotal), "count": stats.TodayCount},
		"month":          fiber.Map{"total": ledger.Format(stats.MonthTotal), "count": stats.MonthCount},
		"all_time":       fiber.Map{"total": ledger.Format(stats.AllTotal), "count": stats.AllCount},
		"daily_target":   ledger.Format(stats.DailyTarget),
		"today_progress": stats.TodayProgress.StringFixed(2),
	})
}

// Callback receives Daraja's STK result. Daraja only needs an
// acknowledgement, so duplicates and unknown checkout ids are accepted and
// logged; only storage failures surface as errors.
func (h *Handler) Callback(c *fiber.Ctx) error {
	cb, err := mpesa.ParseSTKCallback(c.Body())
	if err != nil {
		h.logger.Warn("rejecting stk callback", slog.String("error", err.Error()))
		return httpx.NewError(http.StatusBadRequest, "bad_request", err.Error())
	}

	_, err = h.service.ConfirmDeposit(c.UserContext(), Confirmation{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		ReceiptNumber:     cb.ReceiptNumber,
		Amount:            cb.Amount,
	})
	switch {
	case err == nil, errors.Is(err, ledger.ErrAlreadyProcessed):
	case errors.Is(err, ledger.ErrNotFound):
		h.logger.Warn("stk callback for unknown checkout request",
			slog.String("checkout_request_id", cb.CheckoutRequestID),
			slog.Int("result_code", cb.ResultCode))
	default:
		return err
	}
	return c.JSON(fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
