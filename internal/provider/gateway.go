package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/veriflow/veriflow/internal/signature"
)

// sessionIDPattern extracts the session identifier from paths like
// /sessions/{id}/decision.
var sessionIDPattern = regexp.MustCompile(`/sessions/([^/?]+)`)

// Gateway is the HTTP implementation of Client. Every request carries the
// X-AUTH-CLIENT api key and an X-HMAC-SIGNATURE computed per the provider's
// rule: POST/PATCH sign the serialized body, GET/DELETE sign the session id
// extracted from the path. There is no automatic retry; failures surface
// immediately to the caller.
type Gateway struct {
	baseURL string
	apiKey  string
	secret  []byte
	http    *http.Client
	logger  *slog.Logger
}

// NewGateway constructs a provider gateway for the given credentials.
func NewGateway(baseURL, apiKey, sharedSecret string, logger *slog.Logger) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  []byte(sharedSecret),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type sessionEnvelope struct {
	Verification struct {
		ID           string `json:"id"`
		URL          string `json:"url"`
		SessionToken string `json:"sessionToken"`
	} `json:"verification"`
}

type decisionEnvelope struct {
	Verification *struct {
		ID       string   `json:"id"`
		Status   string   `json:"status"`
		Code     int      `json:"code"`
		Reason   string   `json:"reason"`
		Person   Person   `json:"person"`
		Document Document `json:"document"`
	} `json:"verification"`
}

// CreateSession opens a new verification session and returns its redirect URL.
func (g *Gateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	payload := map[string]any{
		"verification": map[string]any{
			"callback": req.Callback,
			"person": map[string]any{
				"firstName": req.Person.FirstName,
				"lastName":  req.Person.LastName,
			},
			"vendorData": req.VendorData,
			"endUserId":  req.EndUserID,
		},
	}

	raw, err := g.call(ctx, http.MethodPost, "/sessions", payload)
	if err != nil {
		return Session{}, err
	}

	var env sessionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Session{}, err
	}
	return Session{
		ID:           env.Verification.ID,
		URL:          env.Verification.URL,
		SessionToken: env.Verification.SessionToken,
	}, nil
}

// Decision fetches the provider's verdict for a session.
func (g *Gateway) Decision(ctx context.Context, sessionID string) (Decision, error) {
	raw, err := g.call(ctx, http.MethodGet, "/sessions/"+sessionID+"/decision", nil)
	if err != nil {
		return Decision{}, err
	}

	var env decisionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Decision{}, err
	}
	d := Decision{Raw: raw}
	if env.Verification != nil {
		d.Status = env.Verification.Status
		d.Code = env.Verification.Code
		d.Reason = env.Verification.Reason
		d.Person = env.Verification.Person
		d.Document = env.Verification.Document
	}
	return d, nil
}

// Person fetches extracted person data for a session.
func (g *Gateway) Person(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return g.call(ctx, http.MethodGet, "/sessions/"+sessionID+"/person", nil)
}

// Media lists media captured during a session.
func (g *Gateway) Media(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return g.call(ctx, http.MethodGet, "/sessions/"+sessionID+"/media", nil)
}

func (g *Gateway) call(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyBytes = encoded
	}

	// GET/DELETE requests sign the session id from the path, not the body.
	toSign := bodyBytes
	if method == http.MethodGet || method == http.MethodDelete {
		toSign = nil
		if m := sessionIDPattern.FindStringSubmatch(path); m != nil {
			toSign = []byte(m[1])
		} else if g.logger != nil {
			g.logger.Warn("could not extract session id for signature", "path", path)
		}
	}
	sig := signature.Sign(toSign, g.secret)

	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+"/v1"+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-AUTH-CLIENT", g.apiKey)
	req.Header.Set("X-HMAC-SIGNATURE", sig)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
