// Package accounts implements identity operations: signup, login, settings
// and subscription updates, admin permission mutation and the one-time
// owner seeding.
package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/user"
)

const defaultWarningThresholdHours = 24

type userKeeper interface {
	CreateUser(ctx context.Context, usr *user.User) error
	GetUserByID(ctx context.Context, userID string) (*user.User, bool, error)
	FindUserByEmail(ctx context.Context, email string) (*user.User, bool, error)
	UpdateUser(ctx context.Context, usr *user.User) error
	GetAllUsers(ctx context.Context) ([]user.User, error)
}

// Accounts owns user lifecycle operations. ownerEmail designates the one
// account whose admin flag can never be revoked.
type Accounts struct {
	db         userKeeper
	clock      clock.Clock
	ownerEmail string
}

// New creates an Accounts service.
func New(db userKeeper, clk clock.Clock, ownerEmail string) *Accounts {
	return &Accounts{
		db:         db,
		clock:      clk,
		ownerEmail: user.NormalizeEmail(ownerEmail),
	}
}

// Register creates a new user with default settings. The email must be
// unique case-insensitively.
func (a *Accounts) Register(
	ctx context.Context,
	name, email, password string,
) (*user.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/accounts/accounts.go/Register(): error while `bcrypt.GenerateFromPassword()` calling: %w",
			err,
		)
	}

	usr := &user.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        user.NormalizeEmail(email),
		PasswordHash: string(hash),
		CreatedAt:    models.MillisFromTime(a.clock.Now()),
		Settings: models.Settings{
			WarningThresholdHours: defaultWarningThresholdHours,
		},
	}

	if err := a.db.CreateUser(ctx, usr); err != nil {
		return nil, err
	}

	return usr, nil
}

// Login verifies the credential and returns the user. Unknown email and
// wrong password are both Unauthorized; the credential is never compared
// in plaintext.
func (a *Accounts) Login(ctx context.Context, email, password string) (*user.User, error) {
	usr, found, err := a.db.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/accounts/accounts.go/Login(): error while `a.db.FindUserByEmail()` calling: %w",
			err,
		)
	}
	if !found {
		return nil, fmt.Errorf("%w: invalid credentials", models.ErrUnauthorized)
	}

	if bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("%w: invalid credentials", models.ErrUnauthorized)
	}

	return usr, nil
}

// UpdateSettings replaces the user's preferences.
func (a *Accounts) UpdateSettings(
	ctx context.Context,
	userID string,
	warningThresholdHours int,
) (*user.User, error) {
	usr, found, err := a.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.ErrNotFound
	}

	usr.Settings.WarningThresholdHours = warningThresholdHours
	if err := a.db.UpdateUser(ctx, usr); err != nil {
		return nil, err
	}

	return usr, nil
}

// ApplySubscription applies a purchased interactive plan. The supplied
// expiry fully replaces any previous one.
func (a *Accounts) ApplySubscription(
	ctx context.Context,
	userID string,
	plan models.SubscriptionPlan,
	expiresAt models.Millis,
) (*user.User, error) {
	usr, found, err := a.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.ErrNotFound
	}

	usr.Subscription = &models.Subscription{
		Plan:      plan,
		ExpiresAt: expiresAt,
	}
	if err := a.db.UpdateUser(ctx, usr); err != nil {
		return nil, err
	}

	return usr, nil
}

// GetAllUsers lists every account. Intended for admin callers; the router
// enforces that.
func (a *Accounts) GetAllUsers(ctx context.Context) ([]user.User, error) {
	return a.db.GetAllUsers(ctx)
}

// SetPermissions mutates per-user flags. Clearing the designated owner's
// isAdmin flag is Forbidden; every other combination applies immediately.
func (a *Accounts) SetPermissions(
	ctx context.Context,
	targetUserID string,
	permissions models.PermissionsRequest,
) (*user.User, error) {
	usr, found, err := a.db.GetUserByID(ctx, targetUserID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.ErrNotFound
	}

	demotesAdmin := permissions.IsAdmin != nil && !*permissions.IsAdmin
	if a.IsOwner(usr) && demotesAdmin {
		return nil, models.ErrOwnerAdminImmutable
	}

	if permissions.IsAdmin != nil {
		usr.IsAdmin = *permissions.IsAdmin
	}
	if permissions.CanSetCustomExpiry != nil {
		usr.CanSetCustomExpiry = *permissions.CanSetCustomExpiry
	}

	if err := a.db.UpdateUser(ctx, usr); err != nil {
		return nil, err
	}

	return usr, nil
}

// IsOwner reports whether the user is the designated owner account.
func (a *Accounts) IsOwner(usr *user.User) bool {
	return usr != nil && user.NormalizeEmail(usr.Email) == a.ownerEmail
}

// SeedOwner creates the designated owner account on first boot. It is a
// no-op when the account already exists.
func (a *Accounts) SeedOwner(ctx context.Context, name, password string) error {
	_, found, err := a.db.FindUserByEmail(ctx, a.ownerEmail)
	if err != nil {
		return fmt.Errorf(
			"in internal/accounts/accounts.go/SeedOwner(): error while `a.db.FindUserByEmail()` calling: %w",
			err,
		)
	}
	if found {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf(
			"in internal/accounts/accounts.go/SeedOwner(): error while `bcrypt.GenerateFromPassword()` calling: %w",
			err,
		)
	}

	return a.db.CreateUser(ctx, &user.User{
		ID:                 uuid.New().String(),
		Name:               name,
		Email:              a.ownerEmail,
		PasswordHash:       string(hash),
		CreatedAt:          models.MillisFromTime(a.clock.Now()),
		Settings:           models.Settings{WarningThresholdHours: defaultWarningThresholdHours},
		IsAdmin:            true,
		CanSetCustomExpiry: true,
	})
}
