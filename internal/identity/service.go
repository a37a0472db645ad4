package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/paysure/paysure/internal/ledger"
	"github.com/paysure/paysure/internal/mpesa"
	"github.com/paysure/paysure/internal/notification"
)

const defaultOTPTTL = 10 * time.Minute

// AccountOpener creates the ledger account that backs a new user.
type AccountOpener interface {
	CreateAccount(ctx context.Context, userID string) (ledger.Account, error)
}

// Service manages identity lifecycle.
type Service struct {
	repo     Repository
	otps     OTPStore
	accounts AccountOpener
	notifier notification.Notifier
	otpTTL   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository, otps OTPStore, accounts AccountOpener, notifier notification.Notifier, otpTTL time.Duration, logger *slog.Logger) *Service {
	if otpTTL <= 0 {
		otpTTL = defaultOTPTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	return &Service{
		repo:     repo,
		otps:     otps,
		accounts: accounts,
		notifier: notifier,
		otpTTL:   otpTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func registrationKey(phone string) string { return "register:" + phone }

// RequestOTP sends a registration code to phone.
func (s *Service) RequestOTP(ctx context.Context, phone string) error {
	normalized, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if _, err := s.repo.FindByPhone(ctx, normalized); err == nil {
		return ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	code, err := GenerateOTP()
	if err != nil {
		return err
	}
	if err := s.otps.Save(ctx, registrationKey(normalized), code, s.otpTTL); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	return s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindOTP,
		Destination: normalized,
		Body:        code,
	})
}

// Register verifies the OTP, stores the user with a hashed PIN and opens the
// ledger account with three zero balances.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	phone, err := mpesa.NormalizePhone(reg.Phone)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := validateRegistration(reg); err != nil {
		return User{}, err
	}

	ok, err := s.otps.Verify(ctx, registrationKey(phone), reg.OTP)
	if err != nil {
		return User{}, fmt.Errorf("verify otp: %w", err)
	}
	if !ok {
		return User{}, ErrInvalidOTP
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:               uuid.New().String(),
		Phone:            phone,
		FullName:         reg.FullName,
		NationalID:       reg.NationalID,
		BusinessCategory: reg.BusinessCategory,
		DailyTarget:      reg.DailyTarget,
		MonthlyGoal:      reg.MonthlyGoal,
		PayoutDay:        reg.PayoutDay,
		PINHash:          hash,
		DeviceID:         reg.DeviceID,
		Status:           StatusActive,
		CreatedAt:        s.now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	if err := s.ensureAccount(ctx, user.ID); err != nil {
		return User{}, err
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID), slog.Int("payout_day", user.PayoutDay))
	return user, nil
}

// Authenticate verifies credentials and device binding.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	phone, err := mpesa.NormalizePhone(creds.Phone)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	user, err := s.repo.FindByPhone(ctx, phone)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(creds.PIN)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if user.Status != StatusActive {
		return User{}, ErrSuspended
	}

	if user.DeviceID == "" {
		if creds.DeviceID == "" {
			return User{}, ErrDeviceRequired
		}
		if err := s.repo.UpdateDevice(ctx, user.ID, creds.DeviceID); err != nil {
			return User{}, err
		}
		user.DeviceID = creds.DeviceID
	} else if creds.DeviceID != "" && user.DeviceID != creds.DeviceID {
		return User{}, ErrDeviceMismatch
	}

	// A registration that stored the user but failed to open the account is
	// repaired on the next successful login.
	if err := s.ensureAccount(ctx, user.ID); err != nil {
		return User{}, err
	}

	now := s.now()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("record last login", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
	user.LastLoginAt = &now
	return user, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// ListByPayoutDay returns users whose salary is due on day.
func (s *Service) ListByPayoutDay(ctx context.Context, day int) ([]User, error) {
	return s.repo.ListByPayoutDay(ctx, day)
}

func (s *Service) ensureAccount(ctx context.Context, userID string) error {
	if s.accounts == nil {
		return nil
	}
	if _, err := s.accounts.CreateAccount(ctx, userID); err != nil && !errors.Is(err, ledger.ErrAccountExists) {
		s.logger.Error("open ledger account", slog.String("user_id", userID), slog.String("error", err.Error()))
		return fmt.Errorf("open account: %w", err)
	}
	return nil
}

func validateRegistration(reg Registration) error {
	switch {
	case reg.FullName == "":
		return fmt.Errorf("%w: full name is required", ErrInvalidProfile)
	case len(reg.PIN) < 4 || len(reg.PIN) > 6 || !digitsOnly(reg.PIN):
		return fmt.Errorf("%w: PIN must be 4 to 6 digits", ErrInvalidProfile)
	case reg.PayoutDay < 1 || reg.PayoutDay > 28:
		return fmt.Errorf("%w: payout day must be between 1 and 28", ErrInvalidProfile)
	case !reg.MonthlyGoal.IsPositive() || !reg.MonthlyGoal.Equal(reg.MonthlyGoal.Truncate(0)):
		return fmt.Errorf("%w: monthly goal must be a positive whole amount", ErrInvalidProfile)
	case reg.DailyTarget.IsNegative() || !reg.DailyTarget.Equal(reg.DailyTarget.Round(ledger.Scale)):
		return fmt.Errorf("%w: daily target must not be negative", ErrInvalidProfile)
	case reg.MonthlyGoal.GreaterThanOrEqual(decimal.New(1, 12)):
		return fmt.Errorf("%w: monthly goal is too large", ErrInvalidProfile)
	}
	return nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
