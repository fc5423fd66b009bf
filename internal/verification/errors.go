package verification

import "errors"

var (
	// ErrUnauthenticated means no caller identity could be resolved.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrForbidden means the caller lacks the admin role.
	ErrForbidden = errors.New("admin role required")

	// ErrProviderUnavailable means gateway credentials are not configured.
	// Checked once at dispatch entry; short-circuits every action.
	ErrProviderUnavailable = errors.New("verification provider not configured")

	// ErrNotFound means a record or session lookup missed.
	ErrNotFound = errors.New("verification not found")

	// ErrProfileNotFound means the registration precondition on the profile row failed.
	ErrProfileNotFound = errors.New("user profile not found")

	// ErrEmailNotFound means the account email could not be resolved.
	ErrEmailNotFound = errors.New("user email not found")

	// ErrBadSignature means a webhook delivery failed the HMAC check in strict mode.
	ErrBadSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload means a webhook delivery is missing its session id.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)
