package auth

import (
	"context"
	"testing"
	"time"

	"github.com/veriflow/veriflow/internal/config"
	"github.com/veriflow/veriflow/internal/identity"
)

func testService(t *testing.T) (*Service, identity.User) {
	t.Helper()
	cfg := config.Config{
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}
	repo := identity.NewMemoryRepository()
	ids := identity.NewService(repo)
	user, err := ids.Register(context.Background(), identity.RegisterInput{
		Email: "jane@example.test", Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return NewService(cfg, repo), user
}

func TestLoginIssuesUsableTokenPair(t *testing.T) {
	svc, user := testService(t)

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if pair.ExpiresIn <= 0 {
		t.Fatalf("expected positive expiry, got %d", pair.ExpiresIn)
	}

	claims, err := ParseAccessToken(pair.AccessToken, "access-secret")
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Subject != user.ID {
		t.Fatalf("expected subject %s, got %s", user.ID, claims.Subject)
	}
}

func TestRefreshRotatesAccessToken(t *testing.T) {
	svc, user := testService(t)
	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	access, expiresIn, err := svc.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access == "" || expiresIn <= 0 {
		t.Fatal("expected a fresh access token")
	}

	// Access tokens must not work as refresh tokens, different secret.
	if _, _, err := svc.Refresh(context.Background(), pair.AccessToken); err == nil {
		t.Fatal("access token must not pass as a refresh token")
	}
}

func TestLogoutInvalidatesRefreshTokens(t *testing.T) {
	svc, user := testService(t)
	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(context.Background(), user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken); err == nil {
		t.Fatal("refresh after logout must fail")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	svc, user := testService(t)
	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := ParseAccessToken(pair.AccessToken+"x", "access-secret"); err == nil {
		t.Fatal("tampered token must not parse")
	}
	if _, err := ParseAccessToken(pair.AccessToken, "wrong-secret"); err == nil {
		t.Fatal("wrong secret must not parse")
	}
}
