// Package verification holds the identity-verification record store and the
// orchestrator that drives provider sessions, webhooks and reconciliation.
package verification

import "time"

// Attempt statuses. initiated and pending are the non-terminal states a
// reconciliation pass can still move.
const (
	StatusInitiated    = "initiated"
	StatusPending      = "pending"
	StatusVerified     = "verified"
	StatusRejected     = "rejected"
	StatusReviewNeeded = "review_needed"
)

// Verification types. id_document is the post-login re-verification flow,
// registration runs immediately after signup.
const (
	TypeIDDocument   = "id_document"
	TypeRegistration = "registration"
)

// Keys of the accumulating result blob. The blob is only ever merged into
// additively after creation, so earlier provider responses stay available as
// an audit trail.
const (
	ResultSessionID       = "provider_session_id"
	ResultSessionURL      = "provider_session_url"
	ResultSessionToken    = "provider_session_token"
	ResultRegToken        = "registration_token"
	ResultRegEmail        = "registration_email"
	ResultRegFirstName    = "registration_first_name"
	ResultRegLastName     = "registration_last_name"
	ResultDecision        = "provider_decision"
	ResultWebhook         = "provider_webhook"
	ResultRejectionReason = "rejection_reason"
)

// StaleAfter is the age past which a still-active attempt is considered stuck.
const StaleAfter = 2 * time.Hour

// Attempt is one verification record tied to a user and a point in time. An
// empty UserID means the attempt is not yet bound to an account; profile flag
// updates are skipped for unbound attempts.
type Attempt struct {
	ID                 string
	UserID             string
	Status             string
	Type               string
	FirstNameExtracted string
	LastNameExtracted  string
	DocumentType       string
	DocumentCountry    string
	DocumentURL        string
	Result             map[string]any
	CreatedAt          time.Time
}

// Active reports whether a reconciliation pass can still move the attempt.
func (a Attempt) Active() bool {
	return a.Status == StatusInitiated || a.Status == StatusPending
}

// SessionID returns the provider session id recorded at creation.
func (a Attempt) SessionID() string {
	s, _ := a.Result[ResultSessionID].(string)
	return s
}

// RegistrationToken returns the client-held token minted for registration attempts.
func (a Attempt) RegistrationToken() string {
	s, _ := a.Result[ResultRegToken].(string)
	return s
}

// Stale reports whether the attempt is older than StaleAfter while still active.
func (a Attempt) Stale(now time.Time) bool {
	return a.Active() && now.Sub(a.CreatedAt) > StaleAfter
}

// MergeResult adds entries to the result blob without discarding existing keys.
func (a *Attempt) MergeResult(updates map[string]any) {
	if a.Result == nil {
		a.Result = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		a.Result[k] = v
	}
}

func cloneResult(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
