package models

import (
	"errors"
	"fmt"
)

// Expected-outcome errors surfaced verbatim to callers with a stable code.
// Store and transport failures are never exposed through these; they are
// logged and mapped to a generic internal error at the HTTP boundary.
var (
	// ErrInvalidInput means a malformed long URL or alias.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAliasTaken means the requested alias collides with an active record.
	ErrAliasTaken = errors.New("this alias is already taken")

	// ErrUnauthorized means a missing or unrecognized credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means a recognized but insufficiently privileged caller,
	// or an expired grant.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means no such alias or user.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyIssued means re-issuance of a one-time resource. Callers
	// should treat it as "fetch your existing key" rather than a hard error.
	ErrAlreadyIssued = errors.New("already issued")

	// ErrEmailTaken means a signup collided with an existing account.
	// Emails are unique case-insensitively.
	ErrEmailTaken = errors.New("an account with this email already exists")
)

// ErrOwnerAdminImmutable is the specific Forbidden raised when a permission
// change would clear the designated owner's admin flag.
var ErrOwnerAdminImmutable = fmt.Errorf(
	"%w: cannot remove admin status from the site owner",
	ErrForbidden,
)
