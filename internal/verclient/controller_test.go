package verclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veriflow/veriflow/internal/document"
)

// countingServer records how many requests reached it.
type countingServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newCountingServer(t *testing.T, handler http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func TestUploadRejectsInvalidFileWithoutNetworkCall(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached")
	})
	ctl := NewController(NewClient(srv.URL, "token"))

	cases := []struct {
		name        string
		contentType string
		size        int
		want        error
	}{
		{"executable", "application/octet-stream", 10, document.ErrUnsupportedType},
		{"svg", "image/svg+xml", 10, document.ErrUnsupportedType},
		{"oversized jpeg", "image/jpeg", document.MaxSize + 1, document.ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ctl.Upload(context.Background(), "doc", tc.contentType, make([]byte, tc.size))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if n := srv.hits.Load(); n != 0 {
		t.Fatalf("expected zero requests, saw %d", n)
	}
}

func TestInitiateRequiresDocument(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached")
	})
	ctl := NewController(NewClient(srv.URL, "token"))

	if _, err := ctl.Initiate(context.Background()); !errors.Is(err, ErrDocumentRequired) {
		t.Fatalf("expected ErrDocumentRequired, got %v", err)
	}
	if n := srv.hits.Load(); n != 0 {
		t.Fatalf("expected zero requests, saw %d", n)
	}
}

func TestUploadThenInitiate(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/verification/document":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"key": "documents/u1/abc.jpg",
				"url": "https://storage.test/documents/u1/abc.jpg",
			})
		case r.URL.Path == "/api/v1/verification":
			var req struct {
				Action      string `json:"action"`
				DocumentURL string `json:"documentUrl"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if req.Action != "create-session" {
				t.Errorf("unexpected action %q", req.Action)
			}
			if req.DocumentURL != "https://storage.test/documents/u1/abc.jpg" {
				t.Errorf("document URL not forwarded, got %q", req.DocumentURL)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"verificationId": "v1",
				"sessionId":      "s1",
				"redirectUrl":    "https://magic.example.test/v/s1",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctl := NewController(NewClient(srv.URL, "token"))

	upload, err := ctl.Upload(context.Background(), "id.jpg", "image/jpeg", []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if upload.Key != "documents/u1/abc.jpg" {
		t.Fatalf("unexpected key %q", upload.Key)
	}

	res, err := ctl.Initiate(context.Background())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.RedirectURL != "https://magic.example.test/v/s1" {
		t.Fatalf("unexpected redirect %q", res.RedirectURL)
	}
}

func TestIsStaleRequest(t *testing.T) {
	ctl := NewController(NewClient("http://unused", ""))
	now := time.Now()
	ctl.now = func() time.Time { return now }

	if ctl.IsStaleRequest() {
		t.Fatal("no cached status should never be stale")
	}

	ctl.status = &StatusResult{Verification: &VerificationView{
		Status:    "pending",
		CreatedAt: now.Add(-3 * time.Hour),
	}}
	if !ctl.IsStaleRequest() {
		t.Fatal("three hour old pending attempt is stale")
	}

	ctl.status.Verification.Status = "initiated"
	if !ctl.IsStaleRequest() {
		t.Fatal("three hour old initiated attempt is stale")
	}

	ctl.status.Verification.CreatedAt = now.Add(-time.Hour)
	if ctl.IsStaleRequest() {
		t.Fatal("one hour old attempt is not stale")
	}

	ctl.status.Verification.CreatedAt = now.Add(-3 * time.Hour)
	for _, status := range []string{"verified", "rejected", "review_needed"} {
		ctl.status.Verification.Status = status
		if ctl.IsStaleRequest() {
			t.Fatalf("%s attempts go through delete-and-retry, never staleness", status)
		}
	}
}

func TestDeleteDocumentAndResetClearsState(t *testing.T) {
	var sawKey string
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			sawKey = r.URL.Query().Get("documentKey")
			json.NewEncoder(w).Encode(map[string]any{"success": true})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"key": "documents/u1/abc.jpg", "url": "https://storage.test/x"})
	})
	ctl := NewController(NewClient(srv.URL, "token"))

	if _, err := ctl.Upload(context.Background(), "id.jpg", "image/jpeg", []byte{0xFF}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := ctl.DeleteDocumentAndReset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if sawKey != "documents/u1/abc.jpg" {
		t.Fatalf("expected document key forwarded, got %q", sawKey)
	}

	state := ctl.State()
	if state.DocumentURL != "" || state.Status != nil {
		t.Fatalf("expected cleared state, got %+v", state)
	}
	if _, err := ctl.Initiate(context.Background()); !errors.Is(err, ErrDocumentRequired) {
		t.Fatalf("initiate after reset should need a document, got %v", err)
	}
}

func TestAPIErrorSurfacesServerMessage(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"error": "admin access required"})
	})
	client := NewClient(srv.URL, "token")

	_, err := client.AdminRefreshAll(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "admin access required" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
