package deposit_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paysure/paysure/internal/deposit"
	"github.com/paysure/paysure/internal/httpx"
	"github.com/paysure/paysure/internal/logging"
)

func newApp(f fixture) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(logging.Discard())})
	h := deposit.NewHandler(f.svc, logging.Discard())
	app.Post("/callback", h.Callback)
	app.Post("/deposits", func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		return c.Next()
	}, h.Create)
	return app
}

func callbackBody(checkout string, code int) string {
	meta := ""
	if code == 0 {
		meta = `,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":75},{"Name":"MpesaReceiptNumber","Value":"QK1ABC"},{"Name":"PhoneNumber","Value":254712345678}]}`
	}
	return fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m1","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":"done"%s}}}`,
		checkout, code, meta)
}

func TestCallbackAcksAndConfirms(t *testing.T) {
	f := newFixture(t)
	app := newApp(f)
	d, err := f.svc.RequestDeposit(context.Background(), userID, dec("75"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/callback", strings.NewReader(callbackBody(d.CheckoutRequestID, 0)))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, string(body))
	}

	account, err := f.store.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, account.Deposit.Equal(dec("75")))
}

func TestCallbackUnknownCheckoutIsAcked(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(fiber.MethodPost, "/callback", strings.NewReader(callbackBody("ws_CO_unknown", 0)))
	resp, err := newApp(f).Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestCallbackRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(fiber.MethodPost, "/callback", strings.NewReader(`{"Body":{}}`))
	resp, err := newApp(f).Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreateMapsErrors(t *testing.T) {
	f := newFixture(t)
	app := newApp(f)

	req := httptest.NewRequest(fiber.MethodPost, "/deposits", strings.NewReader(`{"amount":"12.5"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_amount", body["kind"])

	req = httptest.NewRequest(fiber.MethodPost, "/deposits", strings.NewReader(`{"amount":500}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}
