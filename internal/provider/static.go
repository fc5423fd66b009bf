package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Static simulates the provider for tests and credential-less development.
// Decisions are fed in per session; unknown sessions return a 404-shaped
// *Error the way an expired provider session would.
type Static struct {
	mu        sync.Mutex
	decisions map[string]Decision
	created   []Session
}

// NewStatic builds an empty provider fake.
func NewStatic() *Static {
	return &Static{decisions: make(map[string]Decision)}
}

// SetDecision installs the verdict returned for a session.
func (s *Static) SetDecision(sessionID string, d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Raw == nil {
		d.Raw, _ = json.Marshal(map[string]any{
			"verification": map[string]any{
				"id":     sessionID,
				"status": d.Status,
				"code":   d.Code,
				"reason": d.Reason,
				"person": map[string]any{
					"firstName": d.Person.FirstName,
					"lastName":  d.Person.LastName,
				},
				"document": map[string]any{
					"type":    d.Document.Type,
					"country": d.Document.Country,
				},
			},
		})
	}
	s.decisions[sessionID] = d
}

// Sessions returns every session opened through the fake.
func (s *Static) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, len(s.created))
	copy(out, s.created)
	return out
}

// CreateSession opens a synthetic session with a deterministic URL.
func (s *Static) CreateSession(_ context.Context, _ SessionRequest) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	session := Session{
		ID:           id,
		URL:          fmt.Sprintf("https://magic.example.test/v/%s", id),
		SessionToken: uuid.NewString(),
	}
	s.created = append(s.created, session)
	return session, nil
}

// Decision returns the configured verdict, or an empty pending decision when
// none has been installed yet.
func (s *Static) Decision(_ context.Context, sessionID string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[sessionID]
	if !ok {
		return Decision{}, &Error{StatusCode: 404, Body: "session not found"}
	}
	return d, nil
}

// Person returns a minimal person payload for the session.
func (s *Static) Person(_ context.Context, sessionID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[sessionID]
	if !ok {
		return nil, &Error{StatusCode: 404, Body: "session not found"}
	}
	return json.Marshal(map[string]any{"person": d.Person})
}

// Media reports no captured media.
func (s *Static) Media(_ context.Context, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{"images":[],"videos":[]}`), nil
}
