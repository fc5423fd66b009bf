package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/veriflow/veriflow/internal/document"
	"github.com/veriflow/veriflow/internal/provider"
)

// Handler exposes the verification HTTP surface: the action dispatch
// endpoint, document upload and delete-and-reset.
type Handler struct {
	service *Service
	docs    *document.Service
	siteURL string
	logger  *slog.Logger
}

// NewHandler constructs the verification handler. siteURL is the fallback
// callback base when the request carries no origin headers.
func NewHandler(service *Service, docs *document.Service, siteURL string, logger *slog.Logger) *Handler {
	return &Handler{service: service, docs: docs, siteURL: siteURL, logger: logger}
}

type dispatchRequest struct {
	Action            string          `json:"action"`
	SessionID         string          `json:"sessionId"`
	RegistrationToken string          `json:"registrationToken"`
	DocumentURL       string          `json:"documentUrl"`
	WebhookPayload    json.RawMessage `json:"webhookPayload"`
}

// Dispatch is the single RPC-style entry point: a tagged action plus a typed
// payload, JSON in and JSON out.
func (h *Handler) Dispatch(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	// Provider credentials are checked once here and short-circuit every action.
	if !h.service.Configured() {
		h.logger.Error("provider credentials not configured")
		return fiber.NewError(http.StatusServiceUnavailable, "verification provider not configured")
	}

	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	h.logger.Info("verification action", "action", req.Action, "user_id", userID, "session_id", req.SessionID)

	switch req.Action {
	case "create-session":
		result, err := h.service.CreateSession(c.UserContext(), userID, h.callbackBase(c), req.DocumentURL)
		if err != nil {
			return h.fail(err)
		}
		return c.JSON(fiber.Map{
			"success":        true,
			"verificationId": result.VerificationID,
			"redirectUrl":    result.RedirectURL,
			"sessionId":      result.SessionID,
		})

	case "create-session-registration":
		result, err := h.service.CreateRegistrationSession(c.UserContext(), userID, h.callbackBase(c))
		if err != nil {
			return h.fail(err)
		}
		return c.JSON(fiber.Map{
			"success":           true,
			"verificationId":    result.VerificationID,
			"registrationToken": result.RegistrationToken,
			"redirectUrl":       result.RedirectURL,
			"sessionId":         result.SessionID,
		})

	case "check-registration":
		if req.RegistrationToken == "" {
			return fiber.NewError(http.StatusBadRequest, "registration token required")
		}
		status, err := h.service.CheckRegistration(c.UserContext(), req.RegistrationToken)
		if errors.Is(err, ErrNotFound) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{
				"error":  "verification not found",
				"status": "not_found",
			})
		}
		if err != nil {
			return h.fail(err)
		}
		return c.JSON(fiber.Map{
			"success":         true,
			"status":          status.Status,
			"firstName":       status.FirstName,
			"lastName":        status.LastName,
			"documentType":    status.DocumentType,
			"documentCountry": status.DocumentCountry,
			"verificationId":  status.VerificationID,
		})

	case "status":
		result, err := h.service.Status(c.UserContext(), userID)
		if err != nil {
			return h.fail(err)
		}
		var projection fiber.Map
		if result.Attempt != nil {
			projection = attemptProjection(*result.Attempt)
		}
		return c.JSON(fiber.Map{
			"verification":    projection,
			"profileVerified": result.ProfileVerified,
			"verifiedAt":      result.VerifiedAt,
		})

	case "webhook-decision":
		status, err := h.service.HandleDecisionWebhook(c.UserContext(), req.WebhookPayload, c.Get("X-HMAC-SIGNATURE"))
		if err != nil {
			return h.fail(err)
		}
		return c.JSON(fiber.Map{"success": true, "status": status})

	case "webhook-event":
		if err := h.service.HandleEventWebhook(c.UserContext(), req.WebhookPayload); err != nil {
			return h.fail(err)
		}
		return c.JSON(fiber.Map{"success": true, "received": true})

	case "admin-refresh-all":
		summary, err := h.service.RefreshAll(c.UserContext(), userID)
		if err != nil {
			return h.fail(err)
		}
		resp := fiber.Map{
			"success": true,
			"message": fmt.Sprintf("sweep complete: %d updated, %d verified, %d rejected",
				summary.Updated, summary.Verified, summary.Rejected),
			"total":    summary.Total,
			"updated":  summary.Updated,
			"verified": summary.Verified,
			"rejected": summary.Rejected,
		}
		if len(summary.Errors) > 0 {
			resp["errors"] = summary.Errors
		}
		return c.JSON(resp)

	case "get-decision":
		return h.inspect(c, req.SessionID, "decision", h.service.DecisionFor)

	case "get-person":
		return h.inspect(c, req.SessionID, "person", h.service.PersonFor)

	case "get-session-media":
		return h.inspect(c, req.SessionID, "media", h.service.MediaFor)
	}

	return fiber.NewError(http.StatusBadRequest, "unknown action")
}

// UploadDocument stores an identity document for the authenticated user and
// runs the optional name-detection pass.
func (h *Handler) UploadDocument(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, ErrUnauthenticated.Error())
	}

	fileHeader, err := c.FormFile("document")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "document file required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	upload, err := h.docs.Upload(c.UserContext(), userID, fileHeader.Header.Get("Content-Type"), data)
	if errors.Is(err, document.ErrUnsupportedType) || errors.Is(err, document.ErrTooLarge) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return h.fail(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success":            true,
		"key":                upload.Key,
		"url":                upload.URL,
		"extractedFirstName": upload.Extracted.FirstName,
		"extractedLastName":  upload.Extracted.LastName,
	})
}

// DeleteAttempt removes the caller's current attempt outright and cleans up
// the stored document when the client passes its key.
func (h *Handler) DeleteAttempt(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, ErrUnauthenticated.Error())
	}

	if _, err := h.service.DeleteAndReset(c.UserContext(), userID); err != nil {
		return h.fail(err)
	}

	if key := c.Query("documentKey"); key != "" {
		if err := h.docs.Remove(c.UserContext(), key); err != nil {
			h.logger.Warn("could not remove stored document", "key", key, "error", err)
		}
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *Handler) inspect(c *fiber.Ctx, sessionID, field string,
	fetch func(ctx context.Context, callerID, sessionID string) (json.RawMessage, error)) error {
	if sessionID == "" {
		return fiber.NewError(http.StatusBadRequest, "session id required")
	}
	userID, _ := c.Locals("user_id").(string)
	raw, err := fetch(c.UserContext(), userID, sessionID)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(fiber.Map{"success": true, field: raw})
}

// callbackBase resolves the site base URL for provider callbacks from request
// headers, falling back to the configured SITE_URL.
func (h *Handler) callbackBase(c *fiber.Ctx) string {
	if origin := c.Get("Origin"); origin != "" {
		return origin
	}
	if host := c.Get("X-Forwarded-Host"); host != "" {
		proto := c.Get("X-Forwarded-Proto")
		if proto == "" {
			proto = "https"
		}
		return proto + "://" + host
	}
	return h.siteURL
}

func (h *Handler) fail(err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrBadSignature):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrProviderUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrEmailNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidPayload):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		h.logger.Error("provider call failed", "status", perr.StatusCode, "body", perr.Body)
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return fiber.NewError(http.StatusInternalServerError, err.Error())
}

func attemptProjection(a Attempt) fiber.Map {
	return fiber.Map{
		"id":                   a.ID,
		"user_id":              a.UserID,
		"status":               a.Status,
		"verification_type":    a.Type,
		"first_name_extracted": a.FirstNameExtracted,
		"last_name_extracted":  a.LastNameExtracted,
		"document_type":        a.DocumentType,
		"document_country":     a.DocumentCountry,
		"document_url":         a.DocumentURL,
		"created_at":           a.CreatedAt,
	}
}
