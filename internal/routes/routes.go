package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/veriflow/veriflow/internal/auth"
	"github.com/veriflow/veriflow/internal/config"
	"github.com/veriflow/veriflow/internal/document"
	"github.com/veriflow/veriflow/internal/identity"
	"github.com/veriflow/veriflow/internal/middleware"
	"github.com/veriflow/veriflow/internal/provider"
	"github.com/veriflow/veriflow/internal/verification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Store    document.Store
	Provider provider.Client
	Logger   *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}
	identitySvc := identity.NewService(identityRepo)
	authSvc := auth.NewService(d.Cfg, identityRepo)
	authHandler := auth.NewHandler(identitySvc, authSvc)

	var verRepo verification.Repository
	if d.DB != nil {
		verRepo = verification.NewPostgresRepository(d.DB)
	} else {
		verRepo = verification.NewMemoryRepository()
	}
	verSvc := verification.NewService(verRepo, identitySvc, d.Provider, verification.ServiceConfig{
		SharedSecret:   d.Cfg.ProviderSharedSecret,
		StrictWebhooks: d.Cfg.WebhookStrict,
		TestMode:       d.Cfg.TestMode,
	}, d.Logger)

	store := d.Store
	if store == nil {
		store = document.NewMemoryStore()
	}
	docSvc := document.NewService(store, document.NewLoggerExtractor(d.Logger), d.Logger)
	verHandler := verification.NewHandler(verSvc, docSvc, d.Cfg.SiteURL, d.Logger)

	// API routes. Audit adds the structured request log the verification
	// actions are reviewed from.
	api := app.Group("/api/v1", middleware.Audit(d.Logger))
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	jwtmw := middleware.JWTAuth(d.Cfg, identityRepo)
	optionalJWT := middleware.OptionalJWT(d.Cfg, identityRepo)

	// Public routes
	rateLimiter := middleware.LoginRateLimit(d.Cache, 5)
	RegisterAuthRoutes(api, authHandler, rateLimiter, jwtmw)

	RegisterVerificationRoutes(api, verHandler, jwtmw, optionalJWT)

	// Profile endpoint
	protected := api.Group("", jwtmw)
	protected.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return c.SendStatus(http.StatusUnauthorized)
		}
		user, err := identityRepo.FindByID(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "user not found")
		}
		profile, err := identityRepo.Profile(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{
			"user_id":              user.ID,
			"email":                user.Email,
			"first_name":           profile.FirstName,
			"last_name":            profile.LastName,
			"identity_verified":    profile.IdentityVerified,
			"identity_verified_at": profile.IdentityVerifiedAt,
			"token_version":        user.TokenVersion,
			"created_at":           user.CreatedAt,
			"last_login":           user.LastLogin,
		})
	})

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
