package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veriflow/veriflow/internal/logging"
	"github.com/veriflow/veriflow/internal/signature"
)

const testSecret = "test-shared-secret"

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGateway(srv.URL, "api-key", testSecret, logging.Discard()), srv
}

// Body-signed methods must carry a signature over the serialized payload;
// session-signed methods must carry a signature over the session id from the
// path. One subtest per HTTP method.
func TestSignatureRule(t *testing.T) {
	cases := []struct {
		method   string
		path     string
		body     any
		signBody bool
	}{
		{http.MethodPost, "/sessions", map[string]string{"k": "v"}, true},
		{http.MethodPatch, "/sessions/sess-123", map[string]string{"status": "submitted"}, true},
		{http.MethodGet, "/sessions/sess-123/decision", nil, false},
		{http.MethodDelete, "/sessions/sess-123", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			var gotSig, gotBody string
			gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				gotSig = r.Header.Get("X-HMAC-SIGNATURE")
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.Write([]byte(`{}`))
			})

			if _, err := gw.call(context.Background(), tc.method, tc.path, tc.body); err != nil {
				t.Fatalf("call: %v", err)
			}

			var want string
			if tc.signBody {
				want = signature.Sign([]byte(gotBody), []byte(testSecret))
			} else {
				want = signature.Sign([]byte("sess-123"), []byte(testSecret))
			}
			if gotSig != want {
				t.Fatalf("method %s: expected signature %s got %s", tc.method, want, gotSig)
			}
		})
	}
}

func TestAuthHeaderAttached(t *testing.T) {
	var gotAuth string
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-AUTH-CLIENT")
		w.Write([]byte(`{"verification":{"id":"s1","url":"https://p/v/s1","sessionToken":"tok"}}`))
	})

	sess, err := gw.CreateSession(context.Background(), SessionRequest{Callback: "https://app/register"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if gotAuth != "api-key" {
		t.Fatalf("expected api key header, got %q", gotAuth)
	}
	if sess.ID != "s1" || sess.URL != "https://p/v/s1" {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestNon2xxSurfacesBody(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	})

	_, err := gw.Decision(context.Background(), "sess-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if perr.StatusCode != http.StatusBadGateway || perr.Body != "upstream exploded" {
		t.Fatalf("unexpected error %+v", perr)
	}
}

func TestDecisionParsesVerdict(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"verification":{"id":"s1","status":"approved","code":9001,"person":{"firstName":"Jane","lastName":"Doe"},"document":{"type":"PASSPORT","country":"FR"}}}`))
	})

	d, err := gw.Decision(context.Background(), "s1")
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if d.Status != "approved" || d.Code != 9001 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.Person.FirstName != "Jane" || d.Document.Country != "FR" {
		t.Fatalf("unexpected extraction %+v", d)
	}
}
