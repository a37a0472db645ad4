package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paysure/paysure/internal/auth"
	"github.com/paysure/paysure/internal/config"
	"github.com/paysure/paysure/internal/deposit"
	"github.com/paysure/paysure/internal/identity"
	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/middleware"
	"github.com/paysure/paysure/internal/mpesa"
	"github.com/paysure/paysure/internal/notification"
	"github.com/paysure/paysure/internal/salary"
	"github.com/paysure/paysure/internal/store/memory"
	"github.com/paysure/paysure/internal/store/postgres"
	"github.com/paysure/paysure/internal/wallet"
)

const (
	otpRequestsPerMinute = 3
	loginsPerMinute      = 5
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Rail and Notifier override the M-Pesa client and the SMS notifier.
	Rail     PaymentRail
	Notifier notification.Notifier
}

// store is everything the services need from the persistence layer. The
// Postgres and in-memory stores both provide it.
type store interface {
	ledger.Store
	deposit.Store
	salary.Store
}

// PaymentRail is the full M-Pesa surface: STK push in, B2C out.
type PaymentRail interface {
	deposit.Gateway
	salary.Rail
}

// Setup configures middlewares and all application routes. It returns the
// salary scheduler; the caller decides whether to start it.
func Setup(app *fiber.App, d Deps) (*salary.Scheduler, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Rail == nil && !d.Cfg.Mpesa.Configured() {
			return nil, fmt.Errorf("mpesa credentials are required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDevelopment() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Storage
	var st store
	var identityRepo identity.Repository
	var otps identity.OTPStore
	if d.DB != nil {
		st = postgres.New(d.DB, d.Logger)
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory storage")
		st = memory.New()
		identityRepo = identity.NewMemoryRepository()
	}
	if d.Cache != nil {
		otps = identity.NewRedisOTPStore(d.Cache)
	} else {
		otps = identity.NewMemoryOTPStore(nil)
	}

	var mobile PaymentRail
	switch {
	case d.Rail != nil:
		mobile = d.Rail
	case d.Cfg.Mpesa.Configured():
		m := d.Cfg.Mpesa
		mobile = mpesa.NewClient(mpesa.Config{
			BaseURL:            m.BaseURL,
			ConsumerKey:        m.ConsumerKey,
			ConsumerSecret:     m.ConsumerSecret,
			ShortCode:          m.ShortCode,
			PassKey:            m.PassKey,
			CallbackURL:        m.CallbackURL,
			InitiatorName:      m.InitiatorName,
			SecurityCredential: m.SecurityCredential,
			ResultURL:          m.ResultURL,
			TimeoutURL:         m.TimeoutURL,
		}, nil, d.Logger)
	default:
		d.Logger.Warn("mpesa credentials missing, payments are simulated")
		mobile = &mpesa.StaticGateway{}
	}

	// Services and handlers
	var notifier notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	if d.Notifier != nil {
		notifier = d.Notifier
	}
	engine := ledger.NewEngine(st, d.Logger)
	identitySvc := identity.NewService(identityRepo, otps, st, notifier, d.Cfg.OTPTTL, d.Logger)
	people := members{ids: identitySvc}
	authSvc := auth.NewService(d.Cfg, identityRepo)
	walletSvc := wallet.NewService(st)
	depositSvc := deposit.NewService(st, engine, mobile, people, notifier, d.Logger).
		WithGatewayTimeout(d.Cfg.DepositTimeout)
	salarySvc := salary.NewService(st, st, engine, mobile, people, notifier, d.Logger).
		WithPayoutTimeout(d.Cfg.PayoutTimeout)
	scheduler := salary.NewScheduler(salarySvc, people, d.Cfg.SchedulerInterval, d.Logger)

	identityHandler := identity.NewHandler(identitySvc)
	authHandler := auth.NewHandler(identitySvc, authSvc)
	walletHandler := wallet.NewHandler(walletSvc)
	depositHandler := deposit.NewHandler(depositSvc, d.Logger)
	salaryHandler := salary.NewHandler(salarySvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, identityHandler, middleware.PhoneRateLimit(d.Cache, "otp", otpRequestsPerMinute, d.Logger))
	RegisterAuthRoutes(api, authHandler, middleware.PhoneRateLimit(d.Cache, "login", loginsPerMinute, d.Logger))
	RegisterDepositCallback(api, depositHandler)

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	idempotent := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	protected.Get("/me", identityHandler.Me)
	protected.Post("/auth/logout", authHandler.Logout)
	RegisterWalletRoutes(protected, walletHandler)
	RegisterDepositRoutes(protected, depositHandler, idempotent)
	RegisterSalaryRoutes(protected, salaryHandler, idempotent)

	return scheduler, nil
}
