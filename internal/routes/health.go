package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

type component struct {
	name  string
	check func(ctx context.Context) error
}

// RegisterHealthRoutes adds /healthz (process is up) and /readyz (backends
// answer). Backends running in memory report "memory" and never fail.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	var components []component
	if d.DB != nil {
		components = append(components, component{"postgres", d.DB.Ping})
	}
	if d.Cache != nil {
		components = append(components, component{"redis", func(ctx context.Context) error {
			return d.Cache.Ping(ctx).Err()
		}})
	}
	mode := fiber.Map{"postgres": "memory", "redis": "memory", "mpesa": "simulated"}
	if d.Rail == nil && d.Cfg.Mpesa.Configured() {
		mode["mpesa"] = "live"
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		report := fiber.Map{}
		for k, v := range mode {
			report[k] = v
		}
		for _, comp := range components {
			if err := comp.check(ctx); err != nil {
				report[comp.name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			report[comp.name] = "ok"
		}
		return c.Status(status).JSON(fiber.Map{
			"components": report,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
