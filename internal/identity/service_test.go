package identity

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paysure/paysure/internal/logging"
	"github.com/paysure/paysure/internal/notification"
	"github.com/paysure/paysure/internal/store/memory"
)

const testPhone = "254712345678"

type fixture struct {
	svc      *Service
	repo     Repository
	accounts *memory.Store
	outbox   *notification.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := NewMemoryRepository()
	accounts := memory.New()
	outbox := &notification.Recorder{}
	svc := NewService(repo, NewMemoryOTPStore(nil), accounts, outbox, time.Minute, logging.Discard())
	return fixture{svc: svc, repo: repo, accounts: accounts, outbox: outbox}
}

func (f fixture) otp(t *testing.T, phone string) string {
	t.Helper()
	require.NoError(t, f.svc.RequestOTP(context.Background(), phone))
	msg, ok := f.outbox.Last(notification.KindOTP, testPhone)
	require.True(t, ok, "otp was not sent")
	require.Len(t, msg.Body, 6)
	return msg.Body
}

func registration(otp string) Registration {
	return Registration{
		Phone:            "0712345678",
		FullName:         "Wanjiku Mama Mboga",
		BusinessCategory: "groceries",
		DailyTarget:      decimal.NewFromInt(700),
		MonthlyGoal:      decimal.NewFromInt(15000),
		PayoutDay:        5,
		OTP:              otp,
		PIN:              "1234",
		DeviceID:         "device-1",
	}
}

func TestRegisterOpensAccountWithZeroBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, registration(f.otp(t, "0712345678")))
	require.NoError(t, err)
	assert.Equal(t, testPhone, user.Phone)
	assert.Equal(t, StatusActive, user.Status)
	assert.NotEqual(t, "1234", string(user.PINHash))

	account, err := f.accounts.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, account.Total().IsZero())

	stored, err := f.repo.FindByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)
}

func TestRegisterRejectsWrongOTP(t *testing.T) {
	f := newFixture(t)
	code := f.otp(t, "0712345678")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err := f.svc.Register(context.Background(), registration(wrong))
	assert.ErrorIs(t, err, ErrInvalidOTP)

	// The right code still works after a miss.
	_, err = f.svc.Register(context.Background(), registration(code))
	assert.NoError(t, err)
}

func TestOTPIsSingleUse(t *testing.T) {
	f := newFixture(t)
	code := f.otp(t, "0712345678")
	_, err := f.svc.Register(context.Background(), registration(code))
	require.NoError(t, err)

	reg := registration(code)
	reg.Phone = "+254712345678"
	_, err = f.svc.Register(context.Background(), reg)
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestRequestOTPForRegisteredPhone(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), registration(f.otp(t, "0712345678")))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.RequestOTP(context.Background(), "+254 712 345 678"), ErrUserExists)
}

func TestRegisterValidatesProfile(t *testing.T) {
	cases := map[string]func(r *Registration){
		"bad phone":      func(r *Registration) { r.Phone = "12345" },
		"short pin":      func(r *Registration) { r.PIN = "12" },
		"alpha pin":      func(r *Registration) { r.PIN = "12ab" },
		"payout day":     func(r *Registration) { r.PayoutDay = 31 },
		"zero goal":      func(r *Registration) { r.MonthlyGoal = decimal.Zero },
		"fractional":     func(r *Registration) { r.MonthlyGoal = decimal.RequireFromString("100.50") },
		"negative daily": func(r *Registration) { r.DailyTarget = decimal.NewFromInt(-1) },
		"no name":        func(r *Registration) { r.FullName = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			reg := registration("123456")
			mutate(&reg)
			_, err := f.svc.Register(context.Background(), reg)
			assert.ErrorIs(t, err, ErrInvalidProfile)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.svc.Register(ctx, registration(f.otp(t, "0712345678")))
	require.NoError(t, err)

	authed, err := f.svc.Authenticate(ctx, Credentials{Phone: "0712345678", PIN: "1234", DeviceID: "device-1"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)
	require.NotNil(t, authed.LastLoginAt)

	_, err = f.svc.Authenticate(ctx, Credentials{Phone: "0712345678", PIN: "9999", DeviceID: "device-1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, Credentials{Phone: "0712345678", PIN: "1234", DeviceID: "device-2"})
	assert.ErrorIs(t, err, ErrDeviceMismatch)

	_, err = f.svc.Authenticate(ctx, Credentials{Phone: "0799999999", PIN: "1234"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateBindsFirstDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := registration(f.otp(t, "0712345678"))
	reg.DeviceID = ""
	user, err := f.svc.Register(ctx, reg)
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, Credentials{Phone: testPhone, PIN: "1234"})
	assert.ErrorIs(t, err, ErrDeviceRequired)

	_, err = f.svc.Authenticate(ctx, Credentials{Phone: testPhone, PIN: "1234", DeviceID: "phone-a"})
	require.NoError(t, err)

	stored, err := f.repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "phone-a", stored.DeviceID)
}

func TestAuthenticateRepairsMissingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewService(f.repo, NewMemoryOTPStore(nil), nil, f.outbox, time.Minute, logging.Discard())
	require.NoError(t, svc.RequestOTP(ctx, testPhone))
	msg, _ := f.outbox.Last(notification.KindOTP, testPhone)
	user, err := svc.Register(ctx, registration(msg.Body))
	require.NoError(t, err)

	_, err = f.accounts.GetAccount(ctx, user.ID)
	require.Error(t, err)

	_, err = f.svc.Authenticate(ctx, Credentials{Phone: testPhone, PIN: "1234", DeviceID: "device-1"})
	require.NoError(t, err)
	_, err = f.accounts.GetAccount(ctx, user.ID)
	assert.NoError(t, err)
}

func TestListByPayoutDaySkipsSuspended(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, User{ID: "a", Phone: "254700000001", PayoutDay: 5, Status: StatusActive}))
	require.NoError(t, repo.Create(ctx, User{ID: "b", Phone: "254700000002", PayoutDay: 5, Status: StatusSuspended}))
	require.NoError(t, repo.Create(ctx, User{ID: "c", Phone: "254700000003", PayoutDay: 6, Status: StatusActive}))

	users, err := repo.ListByPayoutDay(ctx, 5)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a", users[0].ID)

	assert.ErrorIs(t, repo.Create(ctx, User{ID: "d", Phone: "254700000001"}), ErrUserExists)
}
