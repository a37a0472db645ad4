package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const otpDigits = 6

// OTPStore keeps one-time codes with an explicit expiry.
type OTPStore interface {
	Save(ctx context.Context, key, code string, ttl time.Duration) error
	// Verify consumes the code when it matches. A wrong code leaves the stored
	// one in place.
	Verify(ctx context.Context, key, code string) (bool, error)
}

// GenerateOTP returns a uniformly random six digit code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// verifyScript deletes the key only when the stored value matches.
var verifyScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("DEL", KEYS[1])
    return 1
end
return 0
`)

// RedisOTPStore keeps codes in Redis under otp:<key> with a native TTL.
type RedisOTPStore struct {
	client *redis.Client
}

// NewRedisOTPStore builds a Redis-backed OTP store.
func NewRedisOTPStore(client *redis.Client) *RedisOTPStore {
	return &RedisOTPStore{client: client}
}

func (s *RedisOTPStore) Save(ctx context.Context, key, code string, ttl time.Duration) error {
	return s.client.Set(ctx, "otp:"+key, code, ttl).Err()
}

func (s *RedisOTPStore) Verify(ctx context.Context, key, code string) (bool, error) {
	n, err := verifyScript.Run(ctx, s.client, []string{"otp:" + key}, code).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type otpEntry struct {
	code    string
	expires time.Time
}

// MemoryOTPStore keeps codes in process memory. The clock is injected so
// expiry can be tested.
type MemoryOTPStore struct {
	mu    sync.Mutex
	codes map[string]otpEntry
	now   func() time.Time
}

// NewMemoryOTPStore builds an in-memory store. A nil clock uses time.Now.
func NewMemoryOTPStore(now func() time.Time) *MemoryOTPStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryOTPStore{codes: make(map[string]otpEntry), now: now}
}

func (s *MemoryOTPStore) Save(_ context.Context, key, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[key] = otpEntry{code: code, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryOTPStore) Verify(_ context.Context, key, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.codes[key]
	if !ok {
		return false, nil
	}
	if !s.now().Before(entry.expires) {
		delete(s.codes, key)
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(code)) != 1 {
		return false, nil
	}
	delete(s.codes, key)
	return true, nil
}
