// Package memorystorage provides an in-memory implementation of the storage
// contract. It is used in tests and as the fallback backend when neither a
// database DSN nor a storage file is configured.
package memorystorage

import (
	"context"
	"sync"
	"time"

	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/user"
)

// MemoryStorage keeps every collection in process memory, serialized by a
// single mutex. The mutex is what makes UpsertLinkByAlias's
// check-then-write atomic here.
type MemoryStorage struct {
	mu sync.Mutex

	linksByAlias map[string]models.LinkRecord
	usersByID    map[string]user.User
	payments     []models.PaymentRecord
	qrCodes      []models.QrCodeRecord
	scans        []models.ScanRecord
}

// New returns an empty MemoryStorage.
func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		linksByAlias: map[string]models.LinkRecord{},
		usersByID:    map[string]user.User{},
	}, nil
}

// UpsertLinkByAlias inserts or reclaims the alias slot under the mutex.
func (db *MemoryStorage) UpsertLinkByAlias(
	ctx context.Context,
	record models.LinkRecord,
	now time.Time,
) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	incumbent, found := db.linksByAlias[record.Alias]
	if found && incumbent.ActiveAt(now) {
		return models.ErrAliasTaken
	}

	db.linksByAlias[record.Alias] = record

	return nil
}

// FindLinkByAlias returns the record holding the alias, active or not.
func (db *MemoryStorage) FindLinkByAlias(
	ctx context.Context,
	alias string,
) (*models.LinkRecord, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	record, found := db.linksByAlias[alias]
	if !found {
		return nil, false, nil
	}

	return &record, true, nil
}

// FindLinkByID scans for a record by its immutable id.
func (db *MemoryStorage) FindLinkByID(
	ctx context.Context,
	id string,
) (*models.LinkRecord, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, record := range db.linksByAlias {
		if record.ID == id {
			found := record

			return &found, true, nil
		}
	}

	return nil, false, nil
}

// GetLinksByOwner returns every record owned by the user.
func (db *MemoryStorage) GetLinksByOwner(
	ctx context.Context,
	ownerUserID string,
) ([]models.LinkRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := []models.LinkRecord{}
	for _, record := range db.linksByAlias {
		if record.OwnerUserID == ownerUserID {
			result = append(result, record)
		}
	}

	return result, nil
}

// DeleteLink removes one record by id.
func (db *MemoryStorage) DeleteLink(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for alias, record := range db.linksByAlias {
		if record.ID == id {
			delete(db.linksByAlias, alias)

			return nil
		}
	}

	return nil
}

// DeleteLinksByOwner removes every record owned by the user.
func (db *MemoryStorage) DeleteLinksByOwner(ctx context.Context, ownerUserID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for alias, record := range db.linksByAlias {
		if record.OwnerUserID == ownerUserID {
			delete(db.linksByAlias, alias)
		}
	}

	return nil
}

// ExtendLinks moves the expiry of the owner's listed records.
func (db *MemoryStorage) ExtendLinks(
	ctx context.Context,
	ownerUserID string,
	ids []string,
	newExpiresAt models.Millis,
) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	for alias, record := range db.linksByAlias {
		_, listed := wanted[record.ID]
		if listed && record.OwnerUserID == ownerUserID {
			record.ExpiresAt = newExpiresAt
			db.linksByAlias[alias] = record
		}
	}

	return nil
}

// CreateUser stores a new user, enforcing email uniqueness.
func (db *MemoryStorage) CreateUser(ctx context.Context, usr *user.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	email := user.NormalizeEmail(usr.Email)
	for _, existing := range db.usersByID {
		if user.NormalizeEmail(existing.Email) == email {
			return models.ErrEmailTaken
		}
	}

	db.usersByID[usr.ID] = *usr

	return nil
}

// GetUserByID returns the user with the given id.
func (db *MemoryStorage) GetUserByID(
	ctx context.Context,
	userID string,
) (*user.User, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	usr, found := db.usersByID[userID]
	if !found {
		return nil, false, nil
	}

	return &usr, true, nil
}

// FindUserByEmail looks a user up case-insensitively.
func (db *MemoryStorage) FindUserByEmail(
	ctx context.Context,
	email string,
) (*user.User, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	email = user.NormalizeEmail(email)
	for _, usr := range db.usersByID {
		if user.NormalizeEmail(usr.Email) == email {
			found := usr

			return &found, true, nil
		}
	}

	return nil, false, nil
}

// FindUserByAPIKey looks a user up by its issued API key.
func (db *MemoryStorage) FindUserByAPIKey(
	ctx context.Context,
	apiKey string,
) (*user.User, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, usr := range db.usersByID {
		if usr.APIAccess != nil && usr.APIAccess.Key == apiKey {
			found := usr

			return &found, true, nil
		}
	}

	return nil, false, nil
}

// UpdateUser replaces the stored user record.
func (db *MemoryStorage) UpdateUser(ctx context.Context, usr *user.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, found := db.usersByID[usr.ID]; !found {
		return models.ErrNotFound
	}

	db.usersByID[usr.ID] = *usr

	return nil
}

// GetAllUsers returns every stored user.
func (db *MemoryStorage) GetAllUsers(ctx context.Context) ([]user.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]user.User, 0, len(db.usersByID))
	for _, usr := range db.usersByID {
		result = append(result, usr)
	}

	return result, nil
}

// AppendPayment appends to the payment ledger.
func (db *MemoryStorage) AppendPayment(ctx context.Context, record models.PaymentRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.payments = append(db.payments, record)

	return nil
}

// GetPaymentsByUser returns the user's payment receipts.
func (db *MemoryStorage) GetPaymentsByUser(
	ctx context.Context,
	userID string,
) ([]models.PaymentRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := []models.PaymentRecord{}
	for _, record := range db.payments {
		if record.UserID == userID {
			result = append(result, record)
		}
	}

	return result, nil
}

// AppendQrCode appends to the QR generation log.
func (db *MemoryStorage) AppendQrCode(ctx context.Context, record models.QrCodeRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.qrCodes = append(db.qrCodes, record)

	return nil
}

// GetQrCodesByOwner returns the user's QR generation events.
func (db *MemoryStorage) GetQrCodesByOwner(
	ctx context.Context,
	ownerUserID string,
) ([]models.QrCodeRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := []models.QrCodeRecord{}
	for _, record := range db.qrCodes {
		if record.OwnerUserID == ownerUserID {
			result = append(result, record)
		}
	}

	return result, nil
}

// AppendScan appends to the scan log.
func (db *MemoryStorage) AppendScan(ctx context.Context, record models.ScanRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.scans = append(db.scans, record)

	return nil
}

// GetScansByOwner returns the user's scan events.
func (db *MemoryStorage) GetScansByOwner(
	ctx context.Context,
	ownerUserID string,
) ([]models.ScanRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := []models.ScanRecord{}
	for _, record := range db.scans {
		if record.OwnerUserID == ownerUserID {
			result = append(result, record)
		}
	}

	return result, nil
}

// GetNumberOfLinks returns the total amount of stored links.
func (db *MemoryStorage) GetNumberOfLinks(ctx context.Context) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return int64(len(db.linksByAlias)), nil
}

// GetNumberOfUsers returns the total amount of stored users.
func (db *MemoryStorage) GetNumberOfUsers(ctx context.Context) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return int64(len(db.usersByID)), nil
}

// Snapshot is a serializable copy of every collection. The file-backed
// backend persists and restores it.
type Snapshot struct {
	LinksByAlias map[string]models.LinkRecord
	UsersByID    map[string]user.User
	Payments     []models.PaymentRecord
	QrCodes      []models.QrCodeRecord
	Scans        []models.ScanRecord
}

// Snapshot returns a copy of the current state.
func (db *MemoryStorage) Snapshot() Snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()

	snapshot := Snapshot{
		LinksByAlias: make(map[string]models.LinkRecord, len(db.linksByAlias)),
		UsersByID:    make(map[string]user.User, len(db.usersByID)),
		Payments:     append([]models.PaymentRecord{}, db.payments...),
		QrCodes:      append([]models.QrCodeRecord{}, db.qrCodes...),
		Scans:        append([]models.ScanRecord{}, db.scans...),
	}
	for alias, record := range db.linksByAlias {
		snapshot.LinksByAlias[alias] = record
	}
	for id, usr := range db.usersByID {
		snapshot.UsersByID[id] = usr
	}

	return snapshot
}

// Restore replaces the current state with the snapshot.
func (db *MemoryStorage) Restore(snapshot Snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.linksByAlias = snapshot.LinksByAlias
	if db.linksByAlias == nil {
		db.linksByAlias = map[string]models.LinkRecord{}
	}
	db.usersByID = snapshot.UsersByID
	if db.usersByID == nil {
		db.usersByID = map[string]user.User{}
	}
	db.payments = snapshot.Payments
	db.qrCodes = snapshot.QrCodes
	db.scans = snapshot.Scans
}

// Ping always succeeds.
func (db *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (db *MemoryStorage) Close() error {
	return nil
}
