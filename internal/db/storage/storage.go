// Package storage declares the full persistence contract shared by the
// application wiring and the storage doubles. Components depend on narrower
// consumer-side slices of it, declared next to the consumer.
//
// The contract is deliberately built from point lookups and single-record
// writes. There is no "read the whole collection, replace the whole
// collection" operation anywhere: such a bulk replace is not atomic and
// would let two concurrent allocations of the same alias both win.
package storage

import (
	"context"
	"time"

	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/user"
)

// LinkKeeper persists alias to long URL mappings.
type LinkKeeper interface {
	// UpsertLinkByAlias inserts the record, or replaces the incumbent
	// record holding the same alias when that incumbent is expired at the
	// given instant (alias reclaim). When the incumbent is still active it
	// returns models.ErrAliasTaken and writes nothing. Implementations
	// must make the check-and-write atomic: either through the backend's
	// native conditional write or by serializing writers.
	UpsertLinkByAlias(ctx context.Context, record models.LinkRecord, now time.Time) error

	FindLinkByAlias(ctx context.Context, alias string) (*models.LinkRecord, bool, error)

	FindLinkByID(ctx context.Context, id string) (*models.LinkRecord, bool, error)

	GetLinksByOwner(ctx context.Context, ownerUserID string) ([]models.LinkRecord, error)

	DeleteLink(ctx context.Context, id string) error

	DeleteLinksByOwner(ctx context.Context, ownerUserID string) error

	// ExtendLinks moves the expiry of the owner's listed links. Links not
	// owned by ownerUserID are left untouched.
	ExtendLinks(
		ctx context.Context,
		ownerUserID string,
		ids []string,
		newExpiresAt models.Millis,
	) error
}

// UserKeeper persists user records.
type UserKeeper interface {
	// CreateUser stores a new user. It returns models.ErrEmailTaken when
	// another user already holds the (case-insensitively) same email.
	CreateUser(ctx context.Context, usr *user.User) error

	GetUserByID(ctx context.Context, userID string) (*user.User, bool, error)

	FindUserByEmail(ctx context.Context, email string) (*user.User, bool, error)

	FindUserByAPIKey(ctx context.Context, apiKey string) (*user.User, bool, error)

	UpdateUser(ctx context.Context, usr *user.User) error

	GetAllUsers(ctx context.Context) ([]user.User, error)
}

// LedgerKeeper persists the append-only payment, QR and scan logs.
type LedgerKeeper interface {
	AppendPayment(ctx context.Context, record models.PaymentRecord) error

	GetPaymentsByUser(ctx context.Context, userID string) ([]models.PaymentRecord, error)

	AppendQrCode(ctx context.Context, record models.QrCodeRecord) error

	GetQrCodesByOwner(ctx context.Context, ownerUserID string) ([]models.QrCodeRecord, error)

	AppendScan(ctx context.Context, record models.ScanRecord) error

	GetScansByOwner(ctx context.Context, ownerUserID string) ([]models.ScanRecord, error)
}

// StatsKeeper serves the internal stats endpoint.
type StatsKeeper interface {
	GetNumberOfLinks(ctx context.Context) (int64, error)

	GetNumberOfUsers(ctx context.Context) (int64, error)
}

// Storage is the full persistence contract.
type Storage interface {
	LinkKeeper
	UserKeeper
	LedgerKeeper
	StatsKeeper

	Ping(ctx context.Context) error

	Close() error
}
