package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/veriflow/veriflow/internal/verification"
)

// RegisterVerificationRoutes wires the verification surface. The dispatch
// endpoint resolves the caller when a valid token is present but stays open
// for webhook deliveries and registration polling; document upload and
// delete-and-reset always require auth.
func RegisterVerificationRoutes(r fiber.Router, h *verification.Handler, jwtmw, optionalJWT fiber.Handler) {
	r.Post("/verification", optionalJWT, h.Dispatch)
	r.Post("/verification/document", jwtmw, h.UploadDocument)
	r.Delete("/verification", jwtmw, h.DeleteAttempt)
}
