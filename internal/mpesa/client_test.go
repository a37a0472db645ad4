package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paysure/paysure/internal/logging"
)

func newTestServer(t *testing.T, tokenCalls *int32, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://example.test/api/v1/deposits/mpesa-callback",
		InitiatorName:  "paysure",
		ResultURL:      "https://example.test/result",
		TimeoutURL:     "https://example.test/timeout",
	}, srv.Client(), logging.Discard())
	client.now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	return client, srv
}

func TestSTKPushSendsDarajaPayload(t *testing.T) {
	var tokenCalls int32
	var got stkPayload
	client, _ := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, stkPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(STKResponse{
			MerchantRequestID: "mr-1", CheckoutRequestID: "ws_CO_1", ResponseCode: "0",
		})
	})

	res, err := client.STKPush(context.Background(), STKRequest{
		Phone: "0712345678", Amount: decimal.NewFromInt(250), AccountReference: "dep-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", res.CheckoutRequestID)

	assert.Equal(t, "254712345678", got.PhoneNumber)
	assert.Equal(t, "254712345678", got.PartyA)
	assert.Equal(t, int64(250), got.Amount)
	assert.Equal(t, "20250314123000", got.Timestamp)
	assert.Equal(t, Password("174379", "passkey", "20250314123000"), got.Password)
	assert.Equal(t, "CustomerPayBillOnline", got.TransactionType)
	assert.Equal(t, "dep-1", got.AccountReference)
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	var tokenCalls int32
	client, _ := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(B2CResponse{ConversationID: "AG_1", ResponseCode: "0"})
	})

	for i := 0; i < 3; i++ {
		_, err := client.B2C(context.Background(), B2CRequest{Phone: "254712345678", Amount: decimal.NewFromInt(400)})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))

	client.now = func() time.Time { return time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC) }
	_, err := client.B2C(context.Background(), B2CRequest{Phone: "254712345678", Amount: decimal.NewFromInt(400)})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
}

func TestB2CErrors(t *testing.T) {
	var tokenCalls int32
	client, _ := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Amount"}`))
	})

	_, err := client.B2C(context.Background(), B2CRequest{Phone: "254712345678", Amount: decimal.NewFromInt(400)})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "400.002.02", apiErr.Code)

	_, err = client.B2C(context.Background(), B2CRequest{Phone: "254712345678", Amount: decimal.RequireFromString("10.50")})
	require.ErrorIs(t, err, ErrWholeAmount)

	_, err = client.B2C(context.Background(), B2CRequest{Phone: "12345", Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrInvalidPhone)
}

func TestNonZeroResponseCodeIsAnError(t *testing.T) {
	var tokenCalls int32
	client, _ := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(STKResponse{ResponseCode: "1", ResponseDescription: "rejected"})
	})
	_, err := client.STKPush(context.Background(), STKRequest{Phone: "0712345678", Amount: decimal.NewFromInt(10)})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "1", apiErr.Code)
}

func TestParseSTKCallback(t *testing.T) {
	success := []byte(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":"ws_CO_191220191020363925",
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":250.00},
			{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
			{"Name":"TransactionDate","Value":20191219102115},
			{"Name":"PhoneNumber","Value":254708374149}
		]}}}}`)
	cb, err := ParseSTKCallback(success)
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)
	assert.Equal(t, 0, cb.ResultCode)
	assert.Equal(t, "NLJ7RT61SV", cb.ReceiptNumber)
	assert.Equal(t, "254708374149", cb.Phone)
	assert.True(t, cb.Amount.Equal(decimal.NewFromInt(250)))

	cancelled := []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`)
	cb, err = ParseSTKCallback(cancelled)
	require.NoError(t, err)
	assert.Equal(t, 1032, cb.ResultCode)
	assert.Empty(t, cb.ReceiptNumber)

	_, err = ParseSTKCallback([]byte(`{"Body":{}}`))
	require.ErrorIs(t, err, ErrMalformedCallback)
	_, err = ParseSTKCallback([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedCallback)
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":      "254712345678",
		"+254712345678":   "254712345678",
		"254 712 345 678": "254712345678",
		"0110123456":      "254110123456",
		"712345678":       "254712345678",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "0812345678", "25471234567", "07123abc78"} {
		_, err := NormalizePhone(bad)
		assert.ErrorIs(t, err, ErrInvalidPhone, bad)
	}
}

func TestStaticGatewayHonoursContext(t *testing.T) {
	g := &StaticGateway{B2CDelay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.B2C(ctx, B2CRequest{Phone: "254712345678", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, g.Payouts())
}
