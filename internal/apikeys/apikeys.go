// Package apikeys implements developer API credential issuance: a single
// free trial key per user and plan upgrades that keep the key string while
// replacing the subscription.
package apikeys

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/user"
)

// Trial key parameters.
const (
	TrialDuration = 30 * 24 * time.Hour

	keyPrefix = "qk_live_"
)

type userKeeper interface {
	GetUserByID(ctx context.Context, userID string) (*user.User, bool, error)
	UpdateUser(ctx context.Context, usr *user.User) error
}

// Issuer creates and upgrades API credentials.
type Issuer struct {
	db    userKeeper
	clock clock.Clock
}

// New creates an Issuer.
func New(db userKeeper, clk clock.Clock) *Issuer {
	return &Issuer{
		db:    db,
		clock: clk,
	}
}

// IssueTrialKey mints the user's one-time trial key: free tier, 30 days.
// When a key already exists it is returned together with ErrAlreadyIssued,
// so callers can treat re-issuance as "fetch your existing key".
func (i *Issuer) IssueTrialKey(ctx context.Context, userID string) (*models.APIAccess, error) {
	usr, found, err := i.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/apikeys/apikeys.go/IssueTrialKey(): error while `i.db.GetUserByID()` calling: %w",
			err,
		)
	}
	if !found {
		return nil, models.ErrNotFound
	}

	if usr.APIAccess != nil {
		return usr.APIAccess, models.ErrAlreadyIssued
	}

	usr.APIAccess = &models.APIAccess{
		Key: newKey(),
		Subscription: models.APISubscription{
			Plan:      models.APIPlanFree,
			ExpiresAt: models.MillisFromTime(i.clock.Now().Add(TrialDuration)),
		},
	}

	if err := i.db.UpdateUser(ctx, usr); err != nil {
		return nil, fmt.Errorf(
			"in internal/apikeys/apikeys.go/IssueTrialKey(): error while `i.db.UpdateUser()` calling: %w",
			err,
		)
	}

	return usr.APIAccess, nil
}

// Upgrade applies a purchased plan. A user without a key gets one minted as
// part of the upgrade; otherwise the key string is kept and only the plan
// and expiry are replaced. The supplied expiry fully replaces the previous
// one - remaining time from an unexpired prior plan is not stacked.
func (i *Issuer) Upgrade(
	ctx context.Context,
	userID string,
	plan models.APIPlan,
	expiresAt models.Millis,
) (*models.APIAccess, error) {
	usr, found, err := i.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/apikeys/apikeys.go/Upgrade(): error while `i.db.GetUserByID()` calling: %w",
			err,
		)
	}
	if !found {
		return nil, models.ErrNotFound
	}

	key := newKey()
	if usr.APIAccess != nil {
		key = usr.APIAccess.Key
	}

	usr.APIAccess = &models.APIAccess{
		Key: key,
		Subscription: models.APISubscription{
			Plan:      plan,
			ExpiresAt: expiresAt,
		},
	}

	if err := i.db.UpdateUser(ctx, usr); err != nil {
		return nil, fmt.Errorf(
			"in internal/apikeys/apikeys.go/Upgrade(): error while `i.db.UpdateUser()` calling: %w",
			err,
		)
	}

	return usr.APIAccess, nil
}

// newKey builds an unguessable key token. A UUIDv4 carries 122 random
// bits, enough to rule out enumeration.
func newKey() string {
	return keyPrefix + uuid.New().String()
}
