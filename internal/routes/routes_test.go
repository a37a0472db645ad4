package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paysure/paysure/internal/config"
	"github.com/paysure/paysure/internal/httpx"
	"github.com/paysure/paysure/internal/logging"
	"github.com/paysure/paysure/internal/mpesa"
	"github.com/paysure/paysure/internal/notification"
	"github.com/paysure/paysure/internal/salary"
)

const phone = "254712345678"

type harness struct {
	t        *testing.T
	app      *fiber.App
	rail     *mpesa.StaticGateway
	sms      *notification.Recorder
	schedule *salary.Scheduler
	token    string
	keys     int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newRailHarness(t, nil)
}

// newRailHarness wires override as the M-Pesa rail when it is not nil.
func newRailHarness(t *testing.T, override PaymentRail) *harness {
	t.Helper()
	logger := logging.Discard()
	h := &harness{t: t, rail: &mpesa.StaticGateway{}, sms: &notification.Recorder{}}
	var mobile PaymentRail = h.rail
	if override != nil {
		mobile = override
	}
	h.app = fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(logger)})
	scheduler, err := Setup(h.app, Deps{
		Cfg: config.Config{
			AppEnv:           "test",
			JWTSecret:        "access-secret",
			JWTRefreshSecret: "refresh-secret",
			AccessTokenTTL:   time.Minute,
			RefreshTokenTTL:  time.Hour,
			OTPTTL:           time.Minute,
			DepositTimeout:   5 * time.Second,
			PayoutTimeout:    5 * time.Second,
		},
		Logger:   logger,
		Rail:     mobile,
		Notifier: h.sms,
	})
	require.NoError(t, err)
	h.schedule = scheduler
	return h
}

func (h *harness) do(method, path, body string) (int, map[string]any) {
	h.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if h.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+h.token)
	}
	if method == fiber.MethodPost {
		h.keys++
		req.Header.Set("Idempotency-Key", fmt.Sprintf("key-%d", h.keys))
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(h.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

// onboard registers and logs in a user with a monthly goal of 50.
func (h *harness) onboard() {
	h.t.Helper()
	status, _ := h.do(fiber.MethodPost, "/api/v1/auth/otp", `{"phone":"0712345678"}`)
	require.Equal(h.t, http.StatusAccepted, status)
	otp, ok := h.sms.Last(notification.KindOTP, phone)
	require.True(h.t, ok)

	status, body := h.do(fiber.MethodPost, "/api/v1/identity/register", fmt.Sprintf(`{
		"phone":"0712345678","full_name":"Wanjiru Kamau","daily_target":"10",
		"monthly_salary_goal":"50","salary_payout_day":5,"otp":%q,"pin":"1234","device_id":"dev-1"}`, otp.Body))
	require.Equal(h.t, http.StatusCreated, status, body)

	status, body = h.do(fiber.MethodPost, "/api/v1/auth/login", `{"phone":"0712345678","pin":"1234","device_id":"dev-1"}`)
	require.Equal(h.t, http.StatusOK, status, body)
	h.token = body["access_token"].(string)
}

func callback(checkout string, amount int) string {
	return fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"ok",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":%d},{"Name":"MpesaReceiptNumber","Value":"QK1ABC"}]}}}}`, checkout, amount)
}

func TestDepositToSalaryFlow(t *testing.T) {
	h := newHarness(t)
	h.onboard()

	status, body := h.do(fiber.MethodPost, "/api/v1/deposits", `{"amount":"75"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "pending", body["status"])
	require.Len(t, h.rail.Pushes(), 1)

	status, ack := h.do(fiber.MethodPost, "/api/v1/deposits/mpesa-callback", callback(body["checkout_request_id"].(string), 75))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, ack["ResultCode"])

	status, balances := h.do(fiber.MethodGet, "/api/v1/wallet/balances", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "75.00", balances["deposit"])
	assert.Equal(t, "75.00", balances["total"])

	// The month is still open, so its deposits cannot be paid out yet.
	now := time.Now().UTC()
	current := fmt.Sprintf(`{"month":%d,"year":%d}`, now.Month(), now.Year())
	status, open := h.do(fiber.MethodPost, "/api/v1/salary/run", current)
	require.Equal(t, http.StatusConflict, status, open)
	assert.Equal(t, "period_open", open["kind"])

	status, body = h.do(fiber.MethodPost, "/api/v1/deposits", `{"amount":"30"}`)
	require.Equal(t, http.StatusCreated, status, body)
	status, _ = h.do(fiber.MethodPost, "/api/v1/deposits/mpesa-callback", callback(body["checkout_request_id"].(string), 30))
	require.Equal(t, http.StatusOK, status)

	payDay := time.Date(now.Year(), now.Month(), 1, 6, 0, 0, 0, time.UTC).AddDate(0, 1, 4)
	res := h.schedule.Tick(context.Background(), payDay)
	require.Equal(t, 1, res.Paid)
	require.Len(t, h.rail.Payouts(), 1)
	assert.Equal(t, phone, h.rail.Payouts()[0].Phone)

	_, balances = h.do(fiber.MethodGet, "/api/v1/wallet/balances", "")
	assert.Equal(t, "0.00", balances["deposit"])
	assert.Equal(t, "0.00", balances["salary"])
	assert.Equal(t, "55.00", balances["buffer"])

	status, history := h.do(fiber.MethodGet, "/api/v1/salary/payouts", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history["payouts"], 1)
	payout := history["payouts"].([]any)[0].(map[string]any)
	assert.Equal(t, "completed", payout["status"])
	assert.Equal(t, "50.00", payout["expected_amount"])

	status, again := h.do(fiber.MethodPost, "/api/v1/salary/payouts/"+payout["payout_id"].(string)+"/execute", "")
	assert.Equal(t, http.StatusConflict, status, again)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newHarness(t)
	status, _ := h.do(fiber.MethodGet, "/api/v1/me", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	h.onboard()
	status, me := h.do(fiber.MethodGet, "/api/v1/me", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, phone, me["phone"])

	status, _ = h.do(fiber.MethodPost, "/api/v1/auth/logout", "")
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(fiber.MethodGet, "/api/v1/me", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUnsafeRequestsNeedIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.onboard()

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/deposits", strings.NewReader(`{"amount":"75"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+h.token)
	resp, err := h.app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, h.rail.Pushes())
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(fiber.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = h.do(fiber.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"postgres": "memory", "redis": "memory", "mpesa": "simulated"}, body["components"])
}

func TestSetupRequiresBackendsOutsideDevelopment(t *testing.T) {
	_, err := Setup(fiber.New(), Deps{Cfg: config.Config{AppEnv: "production"}, Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestSchedulerPaysMembersOnTheirPayoutDay(t *testing.T) {
	h := newHarness(t)
	h.onboard()

	status, body := h.do(fiber.MethodPost, "/api/v1/deposits", `{"amount":"40"}`)
	require.Equal(t, http.StatusCreated, status, body)
	status, _ = h.do(fiber.MethodPost, "/api/v1/deposits/mpesa-callback", callback(body["checkout_request_id"].(string), 40))
	require.Equal(t, http.StatusOK, status)

	// The member's payout day is the 5th; a tick on the 5th of next month
	// pays this month's deposits.
	now := time.Now().UTC()
	payDay := time.Date(now.Year(), now.Month(), 1, 6, 0, 0, 0, time.UTC).AddDate(0, 1, 4)
	res := h.schedule.Tick(context.Background(), payDay)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Paid)
	require.Len(t, h.rail.Payouts(), 1)

	_, balances := h.do(fiber.MethodGet, "/api/v1/wallet/balances", "")
	assert.Equal(t, "0.00", balances["total"])

	status, history := h.do(fiber.MethodGet, "/api/v1/salary/payouts", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history["payouts"], 1)
	assert.Equal(t, "completed", history["payouts"].([]any)[0].(map[string]any)["status"])
}

// downRail accepts payouts but cannot reach the STK push endpoint.
type downRail struct {
	*mpesa.StaticGateway
}

func (downRail) STKPush(context.Context, mpesa.STKRequest) (mpesa.STKResponse, error) {
	return mpesa.STKResponse{}, errors.New("daraja unreachable")
}

func TestSetupAcceptsAnyPaymentRail(t *testing.T) {
	h := newRailHarness(t, downRail{StaticGateway: &mpesa.StaticGateway{}})
	h.onboard()

	status, body := h.do(fiber.MethodPost, "/api/v1/deposits", `{"amount":"75"}`)
	assert.Equal(t, http.StatusBadGateway, status, body)
	assert.Empty(t, h.rail.Pushes())

	status, ready := h.do(fiber.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "simulated", ready["components"].(map[string]any)["mpesa"])
}
