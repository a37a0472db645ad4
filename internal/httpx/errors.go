// Package httpx holds the request binding and error rendering shared by the
// fiber handlers.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/ledger"
)

// Error is an API failure with a stable machine-readable kind.
type Error struct {
	Status  int               `json:"-"`
	Kind    string            `json:"kind"`
	Message string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// NewError builds an API error.
func NewError(status int, kind, message string) *Error {
	return &Error{Status: status, Kind: kind, Message: message}
}

// FromService maps ledger error kinds to HTTP statuses. Anything it does not
// recognise is reported as an opaque internal error so storage details never
// reach the caller.
func FromService(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	kind := ledger.Kind(err)
	switch kind {
	case "not_found":
		return NewError(http.StatusNotFound, kind, err.Error())
	case "insufficient_funds":
		return NewError(http.StatusUnprocessableEntity, kind, err.Error())
	case "already_processed", "account_exists":
		return NewError(http.StatusConflict, kind, err.Error())
	case "external_transport_failure":
		return NewError(http.StatusBadGateway, kind, err.Error())
	case "invalid_amount":
		return NewError(http.StatusBadRequest, kind, err.Error())
	default:
		return NewError(http.StatusInternalServerError, "internal", "internal error")
	}
}

// ErrorHandler renders every handler error as {"error": ..., "kind": ...}.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var apiErr *Error
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &fiberErr):
			apiErr = NewError(fiberErr.Code, kindForStatus(fiberErr.Code), fiberErr.Message)
		default:
			apiErr = NewError(http.StatusInternalServerError, "internal", "internal error")
		}
		if apiErr.Status >= http.StatusInternalServerError && logger != nil {
			reqID, _ := c.Locals("X-Request-ID").(string)
			logger.Error("request failed",
				slog.String("request_id", reqID),
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("error", err.Error()),
			)
		}
		return c.Status(apiErr.Status).JSON(apiErr)
	}
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		if status >= http.StatusInternalServerError {
			return "internal"
		}
		return "error"
	}
}
