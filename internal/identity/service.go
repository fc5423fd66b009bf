package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service manages account lifecycle and exposes the profile operations the
// verification orchestrator depends on.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterInput captures signup data.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a new account with a hashed password and an unverified profile.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, errors.New("valid email is required")
	}
	if len(in.Password) < 8 {
		return User{}, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	profile := Profile{FirstName: in.FirstName, LastName: in.LastName}

	if err := s.repo.Create(ctx, user, profile); err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies credentials and records the login time.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(creds.Email)))
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return User{}, errors.New("invalid credentials")
	}
	if err := s.repo.TouchLogin(ctx, user.ID); err != nil {
		return User{}, err
	}
	return user, nil
}

// Name returns the profile name used when opening a provider session.
func (s *Service) Name(ctx context.Context, userID string) (string, string, error) {
	p, err := s.repo.Profile(ctx, userID)
	if err != nil {
		return "", "", err
	}
	return p.FirstName, p.LastName, nil
}

// Email resolves the account email for a user id.
func (s *Service) Email(ctx context.Context, userID string) (string, error) {
	u, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

// Verified reports the profile verification flag and its timestamp.
func (s *Service) Verified(ctx context.Context, userID string) (bool, *time.Time, error) {
	p, err := s.repo.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return p.IdentityVerified, p.IdentityVerifiedAt, nil
}

// MarkVerified sets the profile flag after a verified decision.
func (s *Service) MarkVerified(ctx context.Context, userID string, at time.Time) error {
	return s.repo.SetVerified(ctx, userID, at)
}

// ClearVerified unsets the flag; used only by delete-and-reset in test mode.
func (s *Service) ClearVerified(ctx context.Context, userID string) error {
	return s.repo.ClearVerified(ctx, userID)
}

// IsAdmin reports whether the user holds the admin role.
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return s.repo.HasRole(ctx, userID, RoleAdmin)
}
