package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "PaySure"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultAccessTokenTTL    = 15 * time.Minute
	defaultRefreshTokenTTL   = 7 * 24 * time.Hour
	defaultOTPTTL            = 10 * time.Minute
	defaultDepositTimeout    = 30 * time.Second
	defaultPayoutTimeout     = 30 * time.Second
	defaultSchedulerInterval = time.Hour
	defaultMpesaBaseURL      = "https://sandbox.safaricom.co.ke"
	developmentJWTSecret     = "paysure-dev-access-secret"
	developmentRefreshSecret = "paysure-dev-refresh-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	OTPTTL           time.Duration

	// DepositTimeout bounds an STK push, PayoutTimeout a B2C payout.
	DepositTimeout    time.Duration
	PayoutTimeout     time.Duration
	SchedulerInterval time.Duration
	SchedulerEnabled  bool

	Mpesa Mpesa
}

// Mpesa holds Daraja API credentials and callback endpoints.
type Mpesa struct {
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

// Configured reports whether enough credentials are present to call the live API.
func (m Mpesa) Configured() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != "" && m.ShortCode != ""
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is read first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		SchedulerEnabled: true,
		Mpesa: Mpesa{
			BaseURL:            strings.TrimRight(getEnv("MPESA_BASE_URL", defaultMpesaBaseURL), "/"),
			ConsumerKey:        os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret:     os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:          os.Getenv("MPESA_SHORTCODE"),
			PassKey:            os.Getenv("MPESA_PASSKEY"),
			CallbackURL:        os.Getenv("MPESA_CALLBACK_URL"),
			InitiatorName:      os.Getenv("MPESA_INITIATOR_NAME"),
			SecurityCredential: os.Getenv("MPESA_SECURITY_CREDENTIAL"),
			ResultURL:          os.Getenv("MPESA_RESULT_URL"),
			TimeoutURL:         os.Getenv("MPESA_TIMEOUT_URL"),
		},
	}

	durations := []struct {
		dst      *time.Duration
		key      string
		fallback time.Duration
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", defaultIdempotencyTTL},
		{&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", defaultAccessTokenTTL},
		{&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL", defaultRefreshTokenTTL},
		{&cfg.OTPTTL, "OTP_TTL", defaultOTPTTL},
		{&cfg.DepositTimeout, "DEPOSIT_TIMEOUT", defaultDepositTimeout},
		{&cfg.PayoutTimeout, "PAYOUT_TIMEOUT", defaultPayoutTimeout},
		{&cfg.SchedulerInterval, "SCHEDULER_INTERVAL", defaultSchedulerInterval},
	}
	for _, d := range durations {
		v, err := durationEnv(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCHEDULER_ENABLED: %w", err)
		}
		cfg.SchedulerEnabled = enabled
	}

	if cfg.IsDevelopment() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = developmentJWTSecret
		}
		if cfg.JWTRefreshSecret == "" {
			cfg.JWTRefreshSecret = developmentRefreshSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" || cfg.JWTRefreshSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must be set")
	}
	if cfg.DepositTimeout <= 0 {
		return Config{}, fmt.Errorf("DEPOSIT_TIMEOUT must be positive")
	}
	if cfg.PayoutTimeout <= 0 {
		return Config{}, fmt.Errorf("PAYOUT_TIMEOUT must be positive")
	}

	return cfg, nil
}

// IsDevelopment reports whether in-memory fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev" || c.AppEnv == "test"
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// durationEnv reads KEY_SECONDS as whole seconds, falling back to KEY as a Go
// duration string.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
