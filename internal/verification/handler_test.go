package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/veriflow/veriflow/internal/document"
	"github.com/veriflow/veriflow/internal/identity"
	"github.com/veriflow/veriflow/internal/logging"
	"github.com/veriflow/veriflow/internal/provider"
)

type handlerFixture struct {
	app    *fiber.App
	store  document.Store
	userID string
	prov   *provider.Static
}

func newHandlerFixture(t *testing.T, gateway provider.Client) *handlerFixture {
	t.Helper()
	idRepo := identity.NewMemoryRepository()
	ids := identity.NewService(idRepo)
	user, err := ids.Register(context.Background(), identity.RegisterInput{
		Email: "jane@example.test", Password: "correct-horse", FirstName: "Jane", LastName: "Doe",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	svc := NewService(NewMemoryRepository(), ids, gateway, ServiceConfig{
		SharedSecret: testSecret, StrictWebhooks: true,
	}, logging.Discard())

	store := document.NewMemoryStore()
	docs := document.NewService(store, nil, logging.Discard())
	h := NewHandler(svc, docs, "https://app.example.test", logging.Discard())

	app := fiber.New()
	// Stand-in for the JWT middleware: every request acts as the fixture user.
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", user.ID)
		return c.Next()
	})
	app.Post("/api/v1/verification", h.Dispatch)
	app.Post("/api/v1/verification/document", h.UploadDocument)
	app.Delete("/api/v1/verification", h.DeleteAttempt)

	f := &handlerFixture{app: app, store: store, userID: user.ID}
	if s, ok := gateway.(*provider.Static); ok {
		f.prov = s
	}
	return f
}

func (f *handlerFixture) dispatch(t *testing.T, body string) (map[string]any, int) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/verification", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}
	return decoded, resp.StatusCode
}

func TestDispatchUnconfiguredProvider(t *testing.T) {
	f := newHandlerFixture(t, nil)
	_, status := f.dispatch(t, `{"action":"status"}`)
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	f := newHandlerFixture(t, provider.NewStatic())
	_, status := f.dispatch(t, `{"action":"definitely-not-a-thing"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestDispatchCheckRegistrationNotFound(t *testing.T) {
	f := newHandlerFixture(t, provider.NewStatic())
	body, status := f.dispatch(t, `{"action":"check-registration","registrationToken":"nope"}`)
	if status != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if body["status"] != "not_found" {
		t.Fatalf("expected not_found marker, got %v", body)
	}
}

func TestDispatchCreateAndStatus(t *testing.T) {
	f := newHandlerFixture(t, provider.NewStatic())

	created, status := f.dispatch(t, `{"action":"create-session"}`)
	if status != fiber.StatusOK {
		t.Fatalf("create-session: expected 200, got %d", status)
	}
	if url, _ := created["redirectUrl"].(string); url == "" {
		t.Fatalf("missing redirect URL: %v", created)
	}
	if sid, _ := created["sessionId"].(string); sid == "" {
		t.Fatalf("missing session id: %v", created)
	}

	got, status := f.dispatch(t, `{"action":"status"}`)
	if status != fiber.StatusOK {
		t.Fatalf("status: expected 200, got %d", status)
	}
	verification, ok := got["verification"].(map[string]any)
	if !ok {
		t.Fatalf("expected verification projection, got %v", got)
	}
	if verification["status"] != StatusInitiated {
		t.Fatalf("expected initiated, got %v", verification["status"])
	}
	if got["profileVerified"] != false {
		t.Fatalf("expected unverified profile, got %v", got["profileVerified"])
	}
}

func TestUploadRejectsBadTypeWithoutStorageWrite(t *testing.T) {
	f := newHandlerFixture(t, provider.NewStatic())

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="document"; filename="evil.exe"`},
		"Content-Type":        {"application/octet-stream"},
	})
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write([]byte("MZ"))
	w.Close()

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/verification/document", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if n := document.PutCount(f.store); n != 0 {
		t.Fatalf("storage must not be touched on validation failure, saw %d writes", n)
	}
}

func TestUploadAcceptsImage(t *testing.T) {
	f := newHandlerFixture(t, provider.NewStatic())

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="document"; filename="id.jpg"`},
		"Content-Type":        {"image/jpeg"},
	})
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write([]byte{0xFF, 0xD8, 0xFF})
	w.Close()

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/verification/document", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body.Key, "documents/"+f.userID+"/") || !strings.HasSuffix(body.Key, ".jpg") {
		t.Fatalf("unexpected key %q", body.Key)
	}
	if n := document.PutCount(f.store); n != 1 {
		t.Fatalf("expected one storage write, saw %d", n)
	}
}

func TestDeleteAttemptResets(t *testing.T) {
	f := newHandlerFixture(t, provider.NewStatic())

	if _, status := f.dispatch(t, `{"action":"create-session"}`); status != fiber.StatusOK {
		t.Fatalf("create-session failed: %d", status)
	}

	req := httptest.NewRequest(fiber.MethodDelete, "/api/v1/verification", nil)
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	got, status := f.dispatch(t, `{"action":"status"}`)
	if status != fiber.StatusOK {
		t.Fatalf("status: expected 200, got %d", status)
	}
	if got["verification"] != nil {
		t.Fatalf("expected no attempt after delete, got %v", got["verification"])
	}
}
