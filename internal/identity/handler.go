package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/httpx"
	"github.com/paysure/paysure/internal/ledger"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type otpRequest struct {
	Phone string `json:"phone" validate:"required,kephone"`
}

type registerRequest struct {
	Phone            string          `json:"phone" validate:"required,kephone"`
	FullName         string          `json:"full_name" validate:"required,max=120"`
	NationalID       string          `json:"national_id" validate:"omitempty,alphanum,max=20"`
	BusinessCategory string          `json:"business_category" validate:"omitempty,max=60"`
	DailyTarget      decimal.Decimal `json:"daily_target"`
	MonthlyGoal      decimal.Decimal `json:"monthly_salary_goal"`
	PayoutDay        int             `json:"salary_payout_day" validate:"required,min=1,max=28"`
	OTP              string          `json:"otp" validate:"required,len=6,numeric"`
	PIN              string          `json:"pin" validate:"required,min=4,max=6,numeric"`
	DeviceID         string          `json:"device_id" validate:"omitempty,max=128"`
}

type userResponse struct {
	UserID           string     `json:"user_id"`
	Phone            string     `json:"phone"`
	FullName         string     `json:"full_name"`
	BusinessCategory string     `json:"business_category,omitempty"`
	DailyTarget      string     `json:"daily_target"`
	MonthlyGoal      string     `json:"monthly_salary_goal"`
	PayoutDay        int        `json:"salary_payout_day"`
	DeviceID         string     `json:"device_id,omitempty"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
}

func toResponse(u User) userResponse {
	return userResponse{
		UserID:           u.ID,
		Phone:            u.Phone,
		FullName:         u.FullName,
		BusinessCategory: u.BusinessCategory,
		DailyTarget:      ledger.Format(u.DailyTarget),
		MonthlyGoal:      ledger.Format(u.MonthlyGoal),
		PayoutDay:        u.PayoutDay,
		DeviceID:         u.DeviceID,
		Status:           u.Status,
		CreatedAt:        u.CreatedAt,
		LastLoginAt:      u.LastLoginAt,
	}
}

// RequestOTP sends a registration code by SMS.
func (h *Handler) RequestOTP(c *fiber.Ctx) error {
	var req otpRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	if err := h.service.RequestOTP(c.UserContext(), req.Phone); err != nil {
		return MapError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "otp_sent"})
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	user, err := h.service.Register(c.UserContext(), Registration{
		Phone:            req.Phone,
		FullName:         req.FullName,
		NationalID:       req.NationalID,
		BusinessCategory: req.BusinessCategory,
		DailyTarget:      req.DailyTarget,
		MonthlyGoal:      req.MonthlyGoal,
		PayoutDay:        req.PayoutDay,
		OTP:              req.OTP,
		PIN:              req.PIN,
		DeviceID:         req.DeviceID,
	})
	if err != nil {
		return MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(user))
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	user, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(toResponse(user))
}

// MapError turns identity failures into API errors. The auth handler reuses it
// for login failures.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidProfile):
		return httpx.NewError(http.StatusBadRequest, "invalid_profile", err.Error())
	case errors.Is(err, ErrInvalidOTP):
		return httpx.NewError(http.StatusUnauthorized, "invalid_otp", err.Error())
	case errors.Is(err, ErrUserExists):
		return httpx.NewError(http.StatusConflict, "user_exists", err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return httpx.NewError(http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, ErrDeviceRequired), errors.Is(err, ErrDeviceMismatch):
		return httpx.NewError(http.StatusUnauthorized, "device_binding", err.Error())
	case errors.Is(err, ErrSuspended):
		return httpx.NewError(http.StatusForbidden, "suspended", err.Error())
	default:
		return httpx.FromService(err)
	}
}
