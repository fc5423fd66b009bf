package verclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// Client is a typed HTTP client for the verification API. It talks to the
// dispatch endpoint and the document routes, attaching the caller's bearer
// token to every request.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client against baseURL, e.g. "https://api.example.com".
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError carries the HTTP status and server message of a failed call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type dispatchPayload struct {
	Action            string          `json:"action"`
	SessionID         string          `json:"sessionId,omitempty"`
	RegistrationToken string          `json:"registrationToken,omitempty"`
	DocumentURL       string          `json:"documentUrl,omitempty"`
	WebhookPayload    json.RawMessage `json:"webhookPayload,omitempty"`
}

// VerificationView mirrors the server's attempt projection.
type VerificationView struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Status             string    `json:"status"`
	Type               string    `json:"verification_type"`
	FirstNameExtracted string    `json:"first_name_extracted"`
	LastNameExtracted  string    `json:"last_name_extracted"`
	DocumentType       string    `json:"document_type"`
	DocumentCountry    string    `json:"document_country"`
	DocumentURL        string    `json:"document_url"`
	CreatedAt          time.Time `json:"created_at"`
}

// StatusResult is the response of the status action.
type StatusResult struct {
	Verification    *VerificationView `json:"verification"`
	ProfileVerified bool              `json:"profileVerified"`
	VerifiedAt      *time.Time        `json:"verifiedAt"`
}

// SessionResult is the response of create-session.
type SessionResult struct {
	VerificationID string `json:"verificationId"`
	RedirectURL    string `json:"redirectUrl"`
	SessionID      string `json:"sessionId"`
}

// RegistrationSessionResult is the response of create-session-registration.
type RegistrationSessionResult struct {
	VerificationID    string `json:"verificationId"`
	RegistrationToken string `json:"registrationToken"`
	RedirectURL       string `json:"redirectUrl"`
	SessionID         string `json:"sessionId"`
}

// RegistrationStatus is the response of check-registration.
type RegistrationStatus struct {
	Status          string `json:"status"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	DocumentType    string `json:"documentType"`
	DocumentCountry string `json:"documentCountry"`
	VerificationID  string `json:"verificationId"`
}

// SweepResult is the response of admin-refresh-all.
type SweepResult struct {
	Message  string   `json:"message"`
	Total    int      `json:"total"`
	Updated  int      `json:"updated"`
	Verified int      `json:"verified"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors"`
}

// UploadResult is the response of the document upload route.
type UploadResult struct {
	Key                string `json:"key"`
	URL                string `json:"url"`
	ExtractedFirstName string `json:"extractedFirstName"`
	ExtractedLastName  string `json:"extractedLastName"`
}

// Status fetches the caller's current verification state.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	var out StatusResult
	err := c.dispatch(ctx, dispatchPayload{Action: "status"}, &out)
	return out, err
}

// CreateSession starts a verification session for the authenticated user.
func (c *Client) CreateSession(ctx context.Context, documentURL string) (SessionResult, error) {
	var out SessionResult
	err := c.dispatch(ctx, dispatchPayload{Action: "create-session", DocumentURL: documentURL}, &out)
	return out, err
}

// CreateRegistrationSession starts a pre-account verification session.
func (c *Client) CreateRegistrationSession(ctx context.Context) (RegistrationSessionResult, error) {
	var out RegistrationSessionResult
	err := c.dispatch(ctx, dispatchPayload{Action: "create-session-registration"}, &out)
	return out, err
}

// CheckRegistration polls the outcome of a registration session by its token.
func (c *Client) CheckRegistration(ctx context.Context, token string) (RegistrationStatus, error) {
	var out RegistrationStatus
	err := c.dispatch(ctx, dispatchPayload{Action: "check-registration", RegistrationToken: token}, &out)
	return out, err
}

// AdminRefreshAll reconciles every non-terminal attempt against the provider.
func (c *Client) AdminRefreshAll(ctx context.Context) (SweepResult, error) {
	var out SweepResult
	err := c.dispatch(ctx, dispatchPayload{Action: "admin-refresh-all"}, &out)
	return out, err
}

// UploadDocument posts an identity document as multipart form data.
func (c *Client) UploadDocument(ctx context.Context, filename, contentType string, data []byte) (UploadResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreatePart(map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="document"; filename=%q`, filename)},
		"Content-Type":        {contentType},
	})
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, err
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/verification/document", &body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	var out UploadResult
	if err := c.do(req, &out); err != nil {
		return UploadResult{}, err
	}
	return out, nil
}

// DeleteAttempt removes the caller's current attempt and, when documentKey is
// set, the stored document alongside it.
func (c *Client) DeleteAttempt(ctx context.Context, documentKey string) error {
	endpoint := c.baseURL + "/api/v1/verification"
	if documentKey != "" {
		endpoint += "?documentKey=" + url.QueryEscape(documentKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.do(req, nil)
}

func (c *Client) dispatch(ctx context.Context, payload dispatchPayload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/verification", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		msg := string(data)
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		return &APIError{StatusCode: res.StatusCode, Message: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
