package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow/veriflow/internal/provider"
	"github.com/veriflow/veriflow/internal/signature"
)

// Provider decision codes.
const (
	codeApproved     = 9001
	codeDeclined     = 9102
	codeResubmission = 9103
	codeExpired      = 9104
)

// Profiles is the slice of the identity store the orchestrator needs.
type Profiles interface {
	Name(ctx context.Context, userID string) (string, string, error)
	Email(ctx context.Context, userID string) (string, error)
	Verified(ctx context.Context, userID string) (bool, *time.Time, error)
	MarkVerified(ctx context.Context, userID string, at time.Time) error
	ClearVerified(ctx context.Context, userID string) error
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// ServiceConfig carries the orchestrator's behavioural switches.
type ServiceConfig struct {
	// SharedSecret validates inbound webhook signatures.
	SharedSecret string
	// StrictWebhooks rejects deliveries with a bad signature instead of only
	// logging a warning. Leave enabled outside of test/debug environments.
	StrictWebhooks bool
	// TestMode allows delete-and-reset to clear the profile verified flag.
	TestMode bool
}

// Service is the orchestrator: it creates provider sessions, reconciles local
// status with provider decisions, processes webhooks and runs the admin sweep.
type Service struct {
	repo     Repository
	profiles Profiles
	gateway  provider.Client
	cfg      ServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the orchestrator. Pass a nil gateway when provider
// credentials are not configured; every action then fails fast.
func NewService(repo Repository, profiles Profiles, gateway provider.Client, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		profiles: profiles,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Configured reports whether the provider gateway is usable.
func (s *Service) Configured() bool {
	return s.gateway != nil
}

// SessionResult is returned by both session-creation actions.
type SessionResult struct {
	VerificationID    string
	SessionID         string
	RedirectURL       string
	RegistrationToken string
}

// RegistrationStatus is the projection returned to the post-signup polling flow.
type RegistrationStatus struct {
	Status          string
	FirstName       string
	LastName        string
	DocumentType    string
	DocumentCountry string
	VerificationID  string
}

// StatusResult pairs the current attempt with the profile flag.
type StatusResult struct {
	Attempt         *Attempt
	ProfileVerified bool
	VerifiedAt      *time.Time
}

// SweepSummary aggregates the outcome of an admin reconciliation sweep.
type SweepSummary struct {
	Total    int
	Updated  int
	Verified int
	Rejected int
	Errors   []string
}

// CreateSession opens a provider session for an authenticated user's
// re-verification and records a new attempt.
func (s *Service) CreateSession(ctx context.Context, userID, callbackBase, documentURL string) (SessionResult, error) {
	if userID == "" {
		return SessionResult{}, ErrUnauthenticated
	}
	if s.gateway == nil {
		return SessionResult{}, ErrProviderUnavailable
	}

	// A missing profile is tolerated here; the provider accepts empty names.
	first, last, err := s.profiles.Name(ctx, userID)
	if err != nil {
		s.logger.Warn("profile lookup failed, continuing without names", "user_id", userID, "error", err)
	}

	sess, err := s.gateway.CreateSession(ctx, provider.SessionRequest{
		Callback:   callbackBase + "/security-settings?verification=complete",
		Person:     provider.Person{FirstName: first, LastName: last},
		VendorData: userID,
		EndUserID:  userID,
	})
	if err != nil {
		return SessionResult{}, err
	}

	attempt, err := s.repo.Create(ctx, Attempt{
		UserID:      userID,
		Status:      StatusInitiated,
		Type:        TypeIDDocument,
		DocumentURL: documentURL,
		Result: map[string]any{
			ResultSessionID:    sess.ID,
			ResultSessionURL:   sess.URL,
			ResultSessionToken: sess.SessionToken,
		},
	})
	if err != nil {
		return SessionResult{}, err
	}

	s.logger.Info("verification session created", "user_id", userID, "session_id", sess.ID)
	return SessionResult{VerificationID: attempt.ID, SessionID: sess.ID, RedirectURL: sess.URL}, nil
}

// CreateRegistrationSession opens a session immediately after signup and mints
// the registration token the client polls with before it holds a durable session.
func (s *Service) CreateRegistrationSession(ctx context.Context, userID, callbackBase string) (SessionResult, error) {
	if userID == "" {
		return SessionResult{}, ErrUnauthenticated
	}
	if s.gateway == nil {
		return SessionResult{}, ErrProviderUnavailable
	}

	first, last, err := s.profiles.Name(ctx, userID)
	if err != nil {
		return SessionResult{}, ErrProfileNotFound
	}
	email, err := s.profiles.Email(ctx, userID)
	if err != nil || email == "" {
		return SessionResult{}, ErrEmailNotFound
	}

	regToken := uuid.NewString()
	callback := fmt.Sprintf("%s/register?verification=complete&token=%s", callbackBase, regToken)

	sess, err := s.gateway.CreateSession(ctx, provider.SessionRequest{
		Callback:   callback,
		Person:     provider.Person{FirstName: first, LastName: last},
		VendorData: userID,
		EndUserID:  userID,
	})
	if err != nil {
		return SessionResult{}, err
	}

	attempt, err := s.repo.Create(ctx, Attempt{
		UserID: userID,
		Status: StatusInitiated,
		Type:   TypeRegistration,
		Result: map[string]any{
			ResultRegToken:     regToken,
			ResultRegEmail:     email,
			ResultRegFirstName: first,
			ResultRegLastName:  last,
			ResultSessionID:    sess.ID,
			ResultSessionURL:   sess.URL,
			ResultSessionToken: sess.SessionToken,
		},
	})
	if err != nil {
		return SessionResult{}, err
	}

	s.logger.Info("registration verification session created", "user_id", userID, "session_id", sess.ID)
	return SessionResult{
		VerificationID:    attempt.ID,
		SessionID:         sess.ID,
		RedirectURL:       sess.URL,
		RegistrationToken: regToken,
	}, nil
}

// CheckRegistration resolves the attempt behind a registration token,
// opportunistically folding in a fresh provider decision when still active.
// Gateway failures are swallowed: the session may legitimately still be in
// progress at the provider.
func (s *Service) CheckRegistration(ctx context.Context, token string) (RegistrationStatus, error) {
	attempt, err := s.repo.RegistrationByToken(ctx, token)
	if err != nil {
		return RegistrationStatus{}, err
	}

	if attempt.Active() {
		if _, err := s.reconcile(ctx, &attempt); err != nil {
			s.logger.Info("could not get decision, session may still be in progress",
				"session_id", attempt.SessionID(), "error", err)
		}
	}

	out := RegistrationStatus{
		Status:          attempt.Status,
		FirstName:       attempt.FirstNameExtracted,
		LastName:        attempt.LastNameExtracted,
		DocumentType:    attempt.DocumentType,
		DocumentCountry: attempt.DocumentCountry,
		VerificationID:  attempt.ID,
	}
	if out.FirstName == "" {
		out.FirstName, _ = attempt.Result[ResultRegFirstName].(string)
	}
	if out.LastName == "" {
		out.LastName, _ = attempt.Result[ResultRegLastName].(string)
	}
	return out, nil
}

// Status returns the caller's most recent attempt plus the profile flag,
// reconciling with the provider on demand when the attempt is still active.
func (s *Service) Status(ctx context.Context, userID string) (StatusResult, error) {
	if userID == "" {
		return StatusResult{}, ErrUnauthenticated
	}

	var attemptPtr *Attempt
	attempt, err := s.repo.LatestByUser(ctx, userID)
	switch {
	case err == nil:
		if attempt.Active() {
			if _, err := s.reconcile(ctx, &attempt); err != nil {
				s.logger.Info("could not get decision, session may still be in progress",
					"session_id", attempt.SessionID(), "error", err)
			}
		}
		attemptPtr = &attempt
	case errors.Is(err, ErrNotFound):
		// No attempt yet; not an error.
	default:
		return StatusResult{}, err
	}

	verified, verifiedAt, err := s.profiles.Verified(ctx, userID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Attempt: attemptPtr, ProfileVerified: verified, VerifiedAt: verifiedAt}, nil
}

// HandleDecisionWebhook validates and applies a provider decision delivery.
// Returns the resulting local status.
func (s *Service) HandleDecisionWebhook(ctx context.Context, payload json.RawMessage, sig string) (string, error) {
	if !signature.Verify(payload, sig, []byte(s.cfg.SharedSecret)) {
		if s.cfg.StrictWebhooks {
			return "", ErrBadSignature
		}
		s.logger.Warn("invalid webhook signature, accepting in lenient mode")
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Verification == nil || env.Verification.ID == "" {
		return "", ErrInvalidPayload
	}

	attempt, err := s.repo.BySession(ctx, env.Verification.ID)
	if err != nil {
		s.logger.Error("verification not found for session", "session_id", env.Verification.ID)
		return "", err
	}

	// Unknown statuses map to pending: the attempt leaves initiated but stays
	// non-terminal, and re-applying the same payload is a no-op.
	newStatus, _ := mapDecision(env.Verification.Status, env.Verification.Code)
	if newStatus == "" {
		newStatus = StatusPending
	}

	attempt.Status = newStatus
	if env.Verification.Person.FirstName != "" {
		attempt.FirstNameExtracted = env.Verification.Person.FirstName
	}
	if env.Verification.Person.LastName != "" {
		attempt.LastNameExtracted = env.Verification.Person.LastName
	}
	if env.Verification.Document.Type != "" {
		attempt.DocumentType = env.Verification.Document.Type
	}
	if env.Verification.Document.Country != "" {
		attempt.DocumentCountry = env.Verification.Document.Country
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err == nil {
		attempt.MergeResult(map[string]any{ResultWebhook: decoded})
	}
	if newStatus == StatusRejected && env.Verification.Reason != "" {
		attempt.MergeResult(map[string]any{ResultRejectionReason: env.Verification.Reason})
	}

	if err := s.repo.Update(ctx, attempt); err != nil {
		return "", err
	}

	if newStatus == StatusVerified && attempt.UserID != "" {
		if err := s.profiles.MarkVerified(ctx, attempt.UserID, s.now()); err != nil {
			return "", err
		}
		s.logger.Info("user identity verified via webhook", "user_id", attempt.UserID)
	}
	return newStatus, nil
}

// HandleEventWebhook acknowledges a lifecycle event. Informational only.
func (s *Service) HandleEventWebhook(_ context.Context, payload json.RawMessage) error {
	var event struct {
		ID     string `json:"id"`
		Action string `json:"action"`
	}
	_ = json.Unmarshal(payload, &event)
	s.logger.Info("provider event received", "session_id", event.ID, "event", event.Action)
	return nil
}

// RefreshAll reconciles every active attempt with the provider. Per-session
// failures are collected without aborting the sweep: an expired provider
// session 404s and that is expected.
func (s *Service) RefreshAll(ctx context.Context, callerID string) (SweepSummary, error) {
	if callerID == "" {
		return SweepSummary{}, ErrUnauthenticated
	}
	admin, err := s.profiles.IsAdmin(ctx, callerID)
	if err != nil {
		return SweepSummary{}, err
	}
	if !admin {
		return SweepSummary{}, ErrForbidden
	}
	if s.gateway == nil {
		return SweepSummary{}, ErrProviderUnavailable
	}

	attempts, err := s.repo.ListActive(ctx)
	if err != nil {
		return SweepSummary{}, err
	}

	summary := SweepSummary{Total: len(attempts)}
	for _, attempt := range attempts {
		sid := attempt.SessionID()
		if sid == "" {
			continue
		}
		status, err := s.reconcile(ctx, &attempt)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("session %s: %v", sid, err))
			continue
		}
		switch status {
		case StatusVerified:
			summary.Updated++
			summary.Verified++
		case StatusRejected:
			summary.Updated++
			summary.Rejected++
		case StatusReviewNeeded:
			summary.Updated++
		}
	}

	s.logger.Info("admin sweep finished", "total", summary.Total,
		"updated", summary.Updated, "verified", summary.Verified, "rejected", summary.Rejected)
	return summary, nil
}

// DeleteAndReset removes the caller's current attempt entirely and returns its
// recorded document URL so the caller can clean up storage. In test mode it
// also clears the profile verified flag, the only path that ever unsets it.
func (s *Service) DeleteAndReset(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrUnauthenticated
	}
	attempt, err := s.repo.LatestByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := s.repo.Delete(ctx, attempt.ID); err != nil {
		return "", err
	}
	if s.cfg.TestMode {
		if err := s.profiles.ClearVerified(ctx, userID); err != nil {
			s.logger.Warn("could not clear profile flag", "user_id", userID, "error", err)
		}
	}
	s.logger.Info("verification attempt deleted", "user_id", userID, "attempt_id", attempt.ID)
	return attempt.DocumentURL, nil
}

// Inspection passthroughs for admin diagnostics.

// DecisionFor fetches the raw provider decision for a session.
func (s *Service) DecisionFor(ctx context.Context, callerID, sessionID string) (json.RawMessage, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	d, err := s.gateway.Decision(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return d.Raw, nil
}

// PersonFor fetches extracted person data for a session.
func (s *Service) PersonFor(ctx context.Context, callerID, sessionID string) (json.RawMessage, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	return s.gateway.Person(ctx, sessionID)
}

// MediaFor lists media captured during a session.
func (s *Service) MediaFor(ctx context.Context, callerID, sessionID string) (json.RawMessage, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	return s.gateway.Media(ctx, sessionID)
}

func (s *Service) requireAdmin(ctx context.Context, callerID string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	admin, err := s.profiles.IsAdmin(ctx, callerID)
	if err != nil {
		return err
	}
	if !admin {
		return ErrForbidden
	}
	if s.gateway == nil {
		return ErrProviderUnavailable
	}
	return nil
}

// reconcile pulls the provider decision for an attempt and folds it in.
// Returns the new status when the attempt moved, or "" when the decision was
// not terminal. The mapping is idempotent: re-applying the same decision is a
// no-op.
func (s *Service) reconcile(ctx context.Context, a *Attempt) (string, error) {
	sid := a.SessionID()
	if sid == "" {
		return "", nil
	}
	if s.gateway == nil {
		return "", ErrProviderUnavailable
	}

	decision, err := s.gateway.Decision(ctx, sid)
	if err != nil {
		return "", err
	}

	newStatus, ok := mapDecision(decision.Status, decision.Code)
	if !ok {
		return "", nil
	}

	a.Status = newStatus
	if newStatus == StatusVerified {
		a.FirstNameExtracted = decision.Person.FirstName
		a.LastNameExtracted = decision.Person.LastName
		a.DocumentType = decision.Document.Type
		a.DocumentCountry = decision.Document.Country
	}

	var decoded any
	if err := json.Unmarshal(decision.Raw, &decoded); err == nil {
		a.MergeResult(map[string]any{ResultDecision: decoded})
	}
	if newStatus == StatusRejected && decision.Reason != "" {
		a.MergeResult(map[string]any{ResultRejectionReason: decision.Reason})
	}

	if err := s.repo.Update(ctx, *a); err != nil {
		return "", err
	}

	if newStatus == StatusVerified && a.UserID != "" {
		if err := s.profiles.MarkVerified(ctx, a.UserID, s.now()); err != nil {
			return "", err
		}
	}
	return newStatus, nil
}

type webhookEnvelope struct {
	Verification *struct {
		ID         string            `json:"id"`
		VendorData string            `json:"vendorData"`
		EndUserID  string            `json:"endUserId"`
		Status     string            `json:"status"`
		Code       int               `json:"code"`
		Reason     string            `json:"reason"`
		Person     provider.Person   `json:"person"`
		Document   provider.Document `json:"document"`
	} `json:"verification"`
}

// mapDecision translates a provider status/code pair to the local status.
// First match wins; ok is false when the decision is not terminal.
func mapDecision(status string, code int) (string, bool) {
	switch {
	case status == "approved" || code == codeApproved:
		return StatusVerified, true
	case status == "declined" || code == codeDeclined:
		return StatusRejected, true
	case status == "resubmission_requested" || code == codeResubmission:
		return StatusReviewNeeded, true
	case status == "expired" || code == codeExpired:
		return StatusRejected, true
	}
	return "", false
}
