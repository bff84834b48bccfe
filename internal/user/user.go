// Package user defines the user model used throughout the application for
// authentication, entitlements and per-user link ownership.
package user

import (
	"strings"
	"time"

	"github.com/quicklnk/quicklnk/internal/models"
)

// User represents a system user together with its entitlements.
//
// PasswordHash is an opaque bcrypt verifier and is never compared in
// plaintext. Subscription and APIAccess have independent lifecycles.
type User struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Email        string               `json:"email"`
	PasswordHash string               `json:"passwordHash"`
	CreatedAt    models.Millis        `json:"createdAt"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
	APIAccess    *models.APIAccess    `json:"apiAccess"`
	Settings     models.Settings      `json:"settings"`

	IsAdmin            bool `json:"isAdmin"`
	CanSetCustomExpiry bool `json:"canSetCustomExpiry"`
}

// NormalizeEmail canonicalizes an email for the case-insensitive uniqueness
// invariant.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MaySetCustomExpiry reports whether the user may supply an explicit
// duration or permanence when shortening.
func (u *User) MaySetCustomExpiry() bool {
	return u != nil && (u.IsAdmin || u.CanSetCustomExpiry)
}

// HasActiveSubscription reports whether the interactive subscription is
// active at the given instant.
func (u *User) HasActiveSubscription(now time.Time) bool {
	return u != nil && u.Subscription.ActiveAt(now)
}

// Sanitized returns a copy safe for responses: the credential verifier is
// blanked out.
func (u *User) Sanitized() User {
	clean := *u
	clean.PasswordHash = ""

	return clean
}
