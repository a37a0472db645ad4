package middleware

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paysure/paysure/internal/auth"
	"github.com/paysure/paysure/internal/config"
	"github.com/paysure/paysure/internal/httpx"
	"github.com/paysure/paysure/internal/identity"
	"github.com/paysure/paysure/internal/logging"
)

func TestPhoneRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	app := fiber.New()
	app.Post("/otp", PhoneRateLimit(cache, "otp", 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	send := func(phone string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/otp", strings.NewReader(`{"phone":"`+phone+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusAccepted, send("0712345678"))
	// Different spelling of the same number shares the counter.
	assert.Equal(t, fiber.StatusAccepted, send("+254712345678"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("254712345678"))
	assert.Equal(t, fiber.StatusAccepted, send("0722000000"))

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, fiber.StatusAccepted, send("0712345678"))
}

func TestJWTAuth(t *testing.T) {
	cfg := config.Config{
		JWTSecret:        "access",
		JWTRefreshSecret: "refresh",
		AccessTokenTTL:   time.Minute,
		RefreshTokenTTL:  time.Hour,
	}
	repo := identity.NewMemoryRepository()
	ctx := context.Background()
	user := identity.User{ID: "user-1", Phone: "254712345678", Status: identity.StatusActive}
	require.NoError(t, repo.Create(ctx, user))
	tokens := auth.NewService(cfg, repo)

	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(logging.Discard())})
	app.Get("/me", JWTAuth(tokens), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	get := func(header string) int {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	pair, err := tokens.Login(user)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, get("Bearer "+pair.AccessToken))
	assert.Equal(t, fiber.StatusUnauthorized, get(""))
	assert.Equal(t, fiber.StatusUnauthorized, get("Bearer "+pair.RefreshToken), "refresh tokens are signed with another secret")

	require.NoError(t, tokens.Logout(ctx, user.ID))
	assert.Equal(t, fiber.StatusUnauthorized, get("Bearer "+pair.AccessToken))
}

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(logging.RequestID(c.UserContext()))
	})

	get := func(id string) (string, string) {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		if id != "" {
			req.Header.Set(requestIDHeader, id)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.Header.Get(requestIDHeader), string(body)
	}

	header, fromCtx := get("client-req.1")
	assert.Equal(t, "client-req.1", header)
	assert.Equal(t, header, fromCtx)

	header, fromCtx = get("bad id\twith spaces")
	assert.NotEqual(t, "bad id\twith spaces", header)
	assert.Len(t, header, 36)
	assert.Equal(t, header, fromCtx)

	header, _ = get("")
	assert.NotEmpty(t, header)
}
