// Package mpesa talks to the Safaricom Daraja API: STK push for inbound
// deposits and B2C for salary payouts.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	stkPath   = "/mpesa/stkpush/v1/processrequest"
	b2cPath   = "/mpesa/b2c/v1/paymentrequest"

	timestampLayout = "20060102150405"
	// tokenSlack renews the OAuth token a little before Daraja expires it.
	tokenSlack = time.Minute
)

// ErrWholeAmount is returned for amounts with a fractional part; Daraja only
// moves whole shillings.
var ErrWholeAmount = errors.New("mpesa amounts must be whole shillings")

// eat is the timezone Daraja expects request timestamps in.
var eat = time.FixedZone("EAT", 3*60*60)

// Config holds Daraja credentials and callback endpoints.
type Config struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	PassKey            string
	CallbackURL        string
	InitiatorName      string
	SecurityCredential string
	ResultURL          string
	TimeoutURL         string
}

// APIError is a non-success answer from Daraja.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa api: status %d code %s: %s", e.Status, e.Code, e.Message)
}

// Client is a Daraja API client. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient builds a Daraja client. A nil httpClient gets a 30 second timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger, now: time.Now}
}

// STKRequest asks the customer's handset to approve a payment to the shortcode.
type STKRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

// STKResponse is Daraja's synchronous acknowledgement of an STK push.
type STKResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// B2CRequest sends money from the shortcode to a customer.
type B2CRequest struct {
	Phone    string
	Amount   decimal.Decimal
	Remarks  string
	Occasion string
}

// B2CResponse is Daraja's synchronous acceptance of a B2C request.
type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type stkPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type b2cPayload struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             int64  `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
	Occasion           string `json:"Occasion"`
}

// STKPush initiates an inbound payment.
func (c *Client) STKPush(ctx context.Context, req STKRequest) (STKResponse, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return STKResponse{}, err
	}
	amount, err := wholeShillings(req.Amount)
	if err != nil {
		return STKResponse{}, err
	}
	timestamp := c.now().In(eat).Format(timestampLayout)
	desc := req.Description
	if desc == "" {
		desc = "PaySure Deposit"
	}

	payload := stkPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   desc,
	}

	var out STKResponse
	if err := c.post(ctx, stkPath, payload, &out); err != nil {
		return STKResponse{}, fmt.Errorf("stk push: %w", err)
	}
	if out.ResponseCode != "0" {
		return STKResponse{}, fmt.Errorf("stk push: %w", &APIError{Status: http.StatusOK, Code: out.ResponseCode, Message: out.ResponseDescription})
	}
	c.logger.Info("stk push accepted",
		slog.String("checkout_request_id", out.CheckoutRequestID),
		slog.String("account_reference", req.AccountReference),
	)
	return out, nil
}

// B2C initiates an outbound payment. Acceptance by Daraja is treated as
// success by callers.
func (c *Client) B2C(ctx context.Context, req B2CRequest) (B2CResponse, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return B2CResponse{}, err
	}
	amount, err := wholeShillings(req.Amount)
	if err != nil {
		return B2CResponse{}, err
	}
	occasion := req.Occasion
	if occasion == "" {
		occasion = "Salary Payout"
	}

	payload := b2cPayload{
		InitiatorName:      c.cfg.InitiatorName,
		SecurityCredential: c.cfg.SecurityCredential,
		CommandID:          "BusinessPayment",
		Amount:             amount,
		PartyA:             c.cfg.ShortCode,
		PartyB:             phone,
		Remarks:            req.Remarks,
		QueueTimeOutURL:    c.cfg.TimeoutURL,
		ResultURL:          c.cfg.ResultURL,
		Occasion:           occasion,
	}

	var out B2CResponse
	if err := c.post(ctx, b2cPath, payload, &out); err != nil {
		return B2CResponse{}, fmt.Errorf("b2c: %w", err)
	}
	if out.ResponseCode != "0" {
		return B2CResponse{}, fmt.Errorf("b2c: %w", &APIError{Status: http.StatusOK, Code: out.ResponseCode, Message: out.ResponseDescription})
	}
	c.logger.Info("b2c accepted", slog.String("conversation_id", out.ConversationID))
	return out, nil
}

// Password derives the STK push password from the shortcode, passkey and timestamp.
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

func wholeShillings(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("%s: %w", amount.StringFixed(2), ErrWholeAmount)
	}
	return amount.IntPart(), nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Status: resp.StatusCode, Message: string(body)}
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if out.AccessToken == "" {
		return "", &APIError{Status: resp.StatusCode, Message: "empty access token"}
	}

	ttl := time.Hour
	if seconds, err := strconv.Atoi(out.ExpiresIn); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	c.token = out.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenSlack)
	return c.token, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		if resp.StatusCode == http.StatusUnauthorized {
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
		}
		msg := apiErr.ErrorMessage
		if msg == "" {
			msg = string(respBody)
		}
		return &APIError{Status: resp.StatusCode, Code: apiErr.ErrorCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
