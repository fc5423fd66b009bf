package auth

import (
	"context"
	"errors"
	"time"

	"github.com/veriflow/veriflow/internal/config"
	"github.com/veriflow/veriflow/internal/identity"
)

// Service issues and refreshes tokens for authenticated accounts.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
}

// NewService creates a new auth service.
func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo}
}

// TokenPair bundles access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a token pair for an already-authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	access, accessExp, err := sign(user.ID, user.TokenVersion, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := sign(user.ID, user.TokenVersion, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessExp).Seconds()),
	}, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := parse(refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return "", 0, errors.New("invalid refresh token")
	}
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return "", 0, errors.New("user not found")
	}
	if user.TokenVersion != claims.TokenVersion {
		return "", 0, errors.New("token version invalidated")
	}
	access, _, err := sign(user.ID, user.TokenVersion, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return access, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Logout increments the token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}
