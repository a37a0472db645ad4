package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/paysure/paysure/internal/mpesa"
)

const rateLimitPrefix = "rl:"

// PhoneRateLimit caps requests per phone number (or client IP when the body
// has none) within a one minute window. scope separates counters, e.g. "otp"
// and "login". Without Redis, or when Redis fails, requests are let through.
func PhoneRateLimit(cache *redis.Client, scope string, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Phone string `json:"phone"`
		}
		_ = c.BodyParser(&req)
		subject := strings.TrimSpace(req.Phone)
		if normalized, err := mpesa.NormalizePhone(subject); err == nil {
			subject = normalized
		}
		if subject == "" {
			subject = c.IP()
		}

		ctx := c.UserContext()
		key := rateLimitPrefix + scope + ":" + subject
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limit counter unavailable", slog.String("scope", scope), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(ctx, key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many "+scope+" attempts, try again later")
		}
		return c.Next()
	}
}
