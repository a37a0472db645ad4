package auth

import (
	"context"
	"errors"
	"time"

	"github.com/paysure/paysure/internal/config"
	"github.com/paysure/paysure/internal/identity"
)

// ErrTokenRevoked is returned for tokens signed under an older token version.
var ErrTokenRevoked = errors.New("token version invalidated")

type Service struct {
	cfg    config.Config
	idRepo identity.Repository
	now    func() time.Time
}

func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo, now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues tokens for a user already authenticated by identity.Service.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	now := s.now()
	access, _, err := Sign([]byte(s.cfg.JWTSecret), user.ID, user.TokenVersion, now, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := Sign([]byte(s.cfg.JWTRefreshSecret), user.ID, user.TokenVersion, now, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := Parse(refreshToken, []byte(s.cfg.JWTRefreshSecret))
	if err != nil {
		return "", 0, err
	}
	if _, err := s.Verify(ctx, claims); err != nil {
		return "", 0, err
	}
	signed, _, err := Sign([]byte(s.cfg.JWTSecret), claims.Subject, claims.Version, s.now(), s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Authorize parses an access token and checks it against the stored version.
func (s *Service) Authorize(ctx context.Context, accessToken string) (identity.User, error) {
	claims, err := Parse(accessToken, []byte(s.cfg.JWTSecret))
	if err != nil {
		return identity.User{}, err
	}
	return s.Verify(ctx, claims)
}

// Verify loads the token's user and rejects revoked or suspended accounts.
func (s *Service) Verify(ctx context.Context, claims *Claims) (identity.User, error) {
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if errors.Is(err, identity.ErrUserNotFound) {
		return identity.User{}, ErrInvalidToken
	}
	if err != nil {
		return identity.User{}, err
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenRevoked
	}
	if user.Status != identity.StatusActive {
		return identity.User{}, identity.ErrSuspended
	}
	return user, nil
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}
