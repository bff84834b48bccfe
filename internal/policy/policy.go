// Package policy implements the authorization resolver: the single place
// where the principal kind (anonymous, authenticated, API key) is turned
// into an expiry policy. Permission checks are centralized here so the
// precedence table is not duplicated across call sites.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/user"
)

// Default link lifetimes by principal standing.
const (
	AnonymousTTL  = 24 * time.Hour
	RegisteredTTL = 7 * 24 * time.Hour

	monthlyTTL    = 30 * 24 * time.Hour
	semiAnnualTTL = 180 * 24 * time.Hour
	yearlyTTL     = 365 * 24 * time.Hour
)

// Principal is the caller context of a link creation.
type Principal struct {
	// User is nil for anonymous callers.
	User *user.User
}

// ExpiryPolicy describes what expiry a creation request may get: the
// default duration applied when no override is requested, whether an
// explicit override is permitted, and - for the developer API path - the
// exact instant every issued link is pinned to.
type ExpiryPolicy struct {
	AllowCustom bool
	DefaultTTL  time.Duration

	// PinnedExpiry, when set, overrides everything else: the issued link
	// co-terminates with the caller's API subscription.
	PinnedExpiry models.Millis
}

type apiKeyFinder interface {
	FindUserByAPIKey(ctx context.Context, apiKey string) (*user.User, bool, error)
}

// Resolver computes expiry policies. All time comparisons go through the
// injected clock.
type Resolver struct {
	db    apiKeyFinder
	clock clock.Clock
}

// New creates a Resolver backed by the given user lookup and clock.
func New(db apiKeyFinder, clk clock.Clock) *Resolver {
	return &Resolver{
		db:    db,
		clock: clk,
	}
}

// Resolve computes the interactive-creation policy for a principal.
//
// Precedence: a principal with isAdmin or canSetCustomExpiry may supply an
// arbitrary explicit duration including permanence; when none is supplied
// the default still derives from the principal's own standing, so a
// privileged subscriber keeps its subscription default rather than
// falling to the anonymous one.
func (r *Resolver) Resolve(principal Principal) ExpiryPolicy {
	now := r.clock.Now()

	result := ExpiryPolicy{
		AllowCustom: principal.User.MaySetCustomExpiry(),
		DefaultTTL:  AnonymousTTL,
	}

	if principal.User == nil {
		return result
	}

	result.DefaultTTL = RegisteredTTL
	if principal.User.HasActiveSubscription(now) {
		switch principal.User.Subscription.Plan {
		case models.PlanMonthly:
			result.DefaultTTL = monthlyTTL
		case models.PlanSemiAnnual:
			result.DefaultTTL = semiAnnualTTL
		case models.PlanYearly:
			result.DefaultTTL = yearlyTTL
		}
	}

	return result
}

// ResolveAPIKey authorizes a developer API caller. A key that matches no
// user is Forbidden, as is a known key whose subscription has lapsed;
// Unauthorized is reserved for the transport layer when no credential is
// presented at all. The returned policy pins every issued link to the
// subscription's expiry.
func (r *Resolver) ResolveAPIKey(
	ctx context.Context,
	apiKey string,
) (*user.User, ExpiryPolicy, error) {
	usr, found, err := r.db.FindUserByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, ExpiryPolicy{}, fmt.Errorf(
			"in internal/policy/policy.go/ResolveAPIKey(): error while `r.db.FindUserByAPIKey()` calling: %w",
			err,
		)
	}
	if !found || usr.APIAccess == nil {
		return nil, ExpiryPolicy{}, fmt.Errorf("%w: invalid API key", models.ErrForbidden)
	}

	if !usr.APIAccess.Subscription.ExpiresAt.After(r.clock.Now()) {
		return nil, ExpiryPolicy{}, fmt.Errorf("%w: API key has expired", models.ErrForbidden)
	}

	return usr, ExpiryPolicy{PinnedExpiry: usr.APIAccess.Subscription.ExpiresAt}, nil
}

// ExpiryAt computes the expiry instant of a link created at the given
// moment under this policy. Supplying an explicit override without the
// permission to do so is Forbidden.
func (p ExpiryPolicy) ExpiryAt(
	createdAt time.Time,
	custom *models.CustomExpiry,
) (models.Millis, error) {
	if p.PinnedExpiry != 0 {
		return p.PinnedExpiry, nil
	}

	if custom == nil {
		return models.MillisFromTime(createdAt.Add(p.DefaultTTL)), nil
	}

	if !p.AllowCustom {
		return 0, fmt.Errorf("%w: custom expiry is not permitted", models.ErrForbidden)
	}

	if custom.Permanent {
		return models.NeverExpires, nil
	}

	if custom.Value < 1 {
		return 0, fmt.Errorf("%w: custom expiry value must be positive", models.ErrInvalidInput)
	}

	switch custom.Unit {
	case "days":
		return models.MillisFromTime(createdAt.AddDate(0, 0, custom.Value)), nil
	case "months":
		return models.MillisFromTime(createdAt.AddDate(0, custom.Value, 0)), nil
	case "years":
		return models.MillisFromTime(createdAt.AddDate(custom.Value, 0, 0)), nil
	}

	return 0, fmt.Errorf("%w: unknown custom expiry unit %q", models.ErrInvalidInput, custom.Unit)
}
