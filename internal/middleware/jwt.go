package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/veriflow/veriflow/internal/auth"
	"github.com/veriflow/veriflow/internal/config"
	"github.com/veriflow/veriflow/internal/identity"
)

// JWTAuth returns a middleware that validates access tokens, checks the token
// version and rejects unauthenticated requests.
func JWTAuth(cfg config.Config, repo identity.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := bearerClaims(c, cfg)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}
		user, err := repo.FindByID(c.UserContext(), claims.Subject)
		if err != nil || user.TokenVersion != claims.TokenVersion {
			return fiber.NewError(http.StatusUnauthorized, "token invalidated")
		}
		c.Locals("user_id", claims.Subject)
		c.Locals("token_version", claims.TokenVersion)
		return c.Next()
	}
}

// OptionalJWT resolves the caller identity when a valid bearer token is
// present but lets the request through either way. The verification dispatch
// endpoint uses this: webhook and registration-polling actions arrive without
// credentials while the rest require them, enforced per action.
func OptionalJWT(cfg config.Config, repo identity.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := bearerClaims(c, cfg)
		if err != nil {
			return c.Next()
		}
		user, err := repo.FindByID(c.UserContext(), claims.Subject)
		if err != nil || user.TokenVersion != claims.TokenVersion {
			return c.Next()
		}
		c.Locals("user_id", claims.Subject)
		return c.Next()
	}
}

func bearerClaims(c *fiber.Ctx, cfg config.Config) (auth.Claims, error) {
	authz := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return auth.Claims{}, errMissingBearer
	}
	token := strings.TrimSpace(authz[len("Bearer "):])
	return auth.ParseAccessToken(token, cfg.JWTSecret)
}

var errMissingBearer = fiber.NewError(http.StatusUnauthorized, "missing bearer token")
