package httpx

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/paysure/paysure/internal/mpesa"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("kephone", func(fl validator.FieldLevel) bool {
		_, err := mpesa.NormalizePhone(fl.Field().String())
		return err == nil
	})
	return v
}

// Bind parses the JSON body into dst and validates its struct tags.
func Bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return NewError(http.StatusBadRequest, "bad_request", "invalid request body")
	}
	return Validate(dst)
}

// Validate checks dst's struct tags and reports each failing field.
func Validate(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return NewError(http.StatusBadRequest, "validation_failed", err.Error())
	}
	apiErr := NewError(http.StatusBadRequest, "validation_failed", "request validation failed")
	apiErr.Details = make(map[string]string, len(verrs))
	for _, fe := range verrs {
		apiErr.Details[fe.Field()] = fmt.Sprintf("failed on '%s'", fe.Tag())
	}
	return apiErr
}
