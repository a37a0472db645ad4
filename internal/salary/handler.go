package salary

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/httpx"
	"github.com/paysure/paysure/internal/ledger"
)

// Handler exposes salary endpoints for the authenticated user.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type runRequest struct {
	Month int `json:"month" validate:"omitempty,min=1,max=12"`
	Year  int `json:"year" validate:"omitempty,min=2000,max=9999"`
}

type payoutResponse struct {
	PayoutID          string     `json:"payout_id"`
	Month             int        `json:"month"`
	Year              int        `json:"year"`
	ExpectedAmount    string     `json:"expected_amount"`
	ActualPaidAmount  string     `json:"actual_paid_amount"`
	Status            Status     `json:"status"`
	ExternalReference string     `json:"external_reference,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	ReseededFrom      string     `json:"reseeded_from,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

func toResponse(p Payout) payoutResponse {
	return payoutResponse{
		PayoutID:          p.ID,
		Month:             p.Month,
		Year:              p.Year,
		ExpectedAmount:    ledger.Format(p.ExpectedAmount),
		ActualPaidAmount:  ledger.Format(p.ActualPaidAmount),
		Status:            p.Status,
		ExternalReference: p.ExternalReference,
		FailureReason:     p.FailureReason,
		ReseededFrom:      p.ReseededFrom,
		CreatedAt:         p.CreatedAt,
		PaidAt:            p.PaidAt,
	}
}

// Run computes a month's salary. Without a body it runs the previous month.
func (h *Handler) Run(c *fiber.Ctx) error {
	var req runRequest
	if len(c.Body()) > 0 {
		if err := httpx.Bind(c, &req); err != nil {
			return err
		}
	}
	if req.Month == 0 || req.Year == 0 {
		req.Month, req.Year = PreviousMonth(time.Now().UTC())
	}
	payout, err := h.service.Run(c.UserContext(), userID(c), req.Month, req.Year)
	if err != nil {
		return mapError(err)
	}
	if payout == nil {
		return c.JSON(fiber.Map{"status": "no_op", "month": req.Month, "year": req.Year})
	}
	return c.Status(http.StatusCreated).JSON(toResponse(*payout))
}

// History lists payouts, newest period first.
func (h *Handler) History(c *fiber.Ctx) error {
	payouts, err := h.service.History(c.UserContext(), userID(c), c.QueryInt("limit", defaultHistoryLimit))
	if err != nil {
		return mapError(err)
	}
	out := make([]payoutResponse, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, toResponse(p))
	}
	return c.JSON(fiber.Map{"payouts": out})
}

// Upcoming shows the next payout date and this month's progress.
func (h *Handler) Upcoming(c *fiber.Ctx) error {
	up, err := h.service.Upcoming(c.UserContext(), userID(c), time.Now())
	if err != nil {
		return mapError(err)
	}
	body := fiber.Map{
		"next_payout_date":  up.NextPayoutDate.Format(time.DateOnly),
		"days_remaining":    up.DaysRemaining,
		"expected_salary":   ledger.Format(up.ExpectedSalary),
		"monthly_goal":      ledger.Format(up.Goal),
		"current_month_sum": ledger.Format(up.CurrentMonthSum),
		"progress_percent":  up.ProgressPercent.StringFixed(2),
	}
	if up.CurrentPayout != nil {
		body["current_payout"] = toResponse(*up.CurrentPayout)
	}
	return c.JSON(body)
}

// Execute pays out one of the caller's pending payouts.
func (h *Handler) Execute(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if _, err := h.service.Get(ctx, userID(c), c.Params("id")); err != nil {
		return mapError(err)
	}
	p, err := h.service.Execute(ctx, c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toResponse(p))
}

// Reseed opens a new pending payout for a failed one.
func (h *Handler) Reseed(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if _, err := h.service.Get(ctx, userID(c), c.Params("id")); err != nil {
		return mapError(err)
	}
	p, err := h.service.Reseed(ctx, c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(p))
}

func mapError(err error) error {
	if errors.Is(err, ErrInvalidPeriod) {
		return httpx.NewError(http.StatusBadRequest, "invalid_period", err.Error())
	}
	if errors.Is(err, ErrPeriodOpen) {
		return httpx.NewError(http.StatusConflict, "period_open", err.Error())
	}
	return httpx.FromService(err)
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
