// Package provider wraps the external KYC verification API behind a small
// client interface so the orchestrator can be exercised against a fake.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Person carries identity fields extracted by the provider.
type Person struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Document describes the identity document inspected by the provider.
type Document struct {
	Type    string `json:"type"`
	Country string `json:"country"`
}

// SessionRequest captures the data needed to open a verification session.
type SessionRequest struct {
	Callback   string
	Person     Person
	VendorData string
	EndUserID  string
}

// Session is the provider's handle for an opened verification session.
type Session struct {
	ID           string
	URL          string
	SessionToken string
}

// Decision is the provider's verdict on a session. Raw holds the full response
// body so callers can persist it as an audit trail.
type Decision struct {
	Status   string
	Code     int
	Reason   string
	Person   Person
	Document Document
	Raw      json.RawMessage
}

// Client is the contract implemented by gateway backends.
type Client interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	Decision(ctx context.Context, sessionID string) (Decision, error)
	Person(ctx context.Context, sessionID string) (json.RawMessage, error)
	Media(ctx context.Context, sessionID string) (json.RawMessage, error)
}

// Error reports a non-2xx provider response. The raw body is kept because it
// carries provider-side diagnostic detail needed for support.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider api error: %d - %s", e.StatusCode, e.Body)
}
