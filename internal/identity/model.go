package identity

import "time"

// RoleAdmin gates the bulk-reconciliation sweep and provider inspection calls.
const RoleAdmin = "admin"

// User represents a registered account.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    time.Time
}

// Profile carries the display identity and the verification flag for a user.
// IdentityVerified is set only when a verification attempt reaches verified
// and is never unset automatically.
type Profile struct {
	UserID             string
	FirstName          string
	LastName           string
	IdentityVerified   bool
	IdentityVerifiedAt *time.Time
}

// Credentials request structure.
type Credentials struct {
	Email    string
	Password string
}
