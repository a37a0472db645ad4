package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMalformedCallback is returned when a callback body is not a Daraja STK result.
var ErrMalformedCallback = errors.New("malformed stk callback")

// STKCallback is the asynchronous result of an STK push.
type STKCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	Amount            decimal.Decimal
	Phone             string
}

type stkEnvelope struct {
	Body struct {
		STKCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseSTKCallback decodes the Body.stkCallback envelope Daraja posts to the
// callback URL. Metadata items are only present on success.
func ParseSTKCallback(body []byte) (STKCallback, error) {
	var env stkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return STKCallback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.STKCallback
	if cb == nil || cb.CheckoutRequestID == "" {
		return STKCallback{}, ErrMalformedCallback
	}

	out := STKCallback{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	for _, item := range cb.CallbackMetadata.Item {
		raw := rawValue(item.Value)
		switch item.Name {
		case "MpesaReceiptNumber":
			out.ReceiptNumber = raw
		case "Amount":
			if d, err := decimal.NewFromString(raw); err == nil {
				out.Amount = d
			}
		case "PhoneNumber":
			out.Phone = raw
		}
	}
	return out, nil
}

// rawValue renders a metadata value that may be a JSON string or number.
func rawValue(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return string(v)
}
