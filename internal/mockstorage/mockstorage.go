// Package mockstorage provides a testify/mock double of the full storage
// contract for handler and service tests.
package mockstorage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/user"
)

// MockStorage implements storage.Storage on top of testify's mock.Mock.
type MockStorage struct {
	mock.Mock
}

// New returns a fresh mock.
func New() *MockStorage {
	return &MockStorage{}
}

func (m *MockStorage) UpsertLinkByAlias(ctx context.Context, record models.LinkRecord, now time.Time) error {
	args := m.Called(ctx, record, now)
	return args.Error(0)
}

func (m *MockStorage) FindLinkByAlias(ctx context.Context, alias string) (*models.LinkRecord, bool, error) {
	args := m.Called(ctx, alias)
	record, _ := args.Get(0).(*models.LinkRecord)
	return record, args.Bool(1), args.Error(2)
}

func (m *MockStorage) FindLinkByID(ctx context.Context, id string) (*models.LinkRecord, bool, error) {
	args := m.Called(ctx, id)
	record, _ := args.Get(0).(*models.LinkRecord)
	return record, args.Bool(1), args.Error(2)
}

func (m *MockStorage) GetLinksByOwner(ctx context.Context, ownerUserID string) ([]models.LinkRecord, error) {
	args := m.Called(ctx, ownerUserID)
	records, _ := args.Get(0).([]models.LinkRecord)
	return records, args.Error(1)
}

func (m *MockStorage) DeleteLink(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStorage) DeleteLinksByOwner(ctx context.Context, ownerUserID string) error {
	args := m.Called(ctx, ownerUserID)
	return args.Error(0)
}

func (m *MockStorage) ExtendLinks(
	ctx context.Context,
	ownerUserID string,
	ids []string,
	newExpiresAt models.Millis,
) error {
	args := m.Called(ctx, ownerUserID, ids, newExpiresAt)
	return args.Error(0)
}

func (m *MockStorage) CreateUser(ctx context.Context, usr *user.User) error {
	args := m.Called(ctx, usr)
	return args.Error(0)
}

func (m *MockStorage) GetUserByID(ctx context.Context, userID string) (*user.User, bool, error) {
	args := m.Called(ctx, userID)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Bool(1), args.Error(2)
}

func (m *MockStorage) FindUserByEmail(ctx context.Context, email string) (*user.User, bool, error) {
	args := m.Called(ctx, email)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Bool(1), args.Error(2)
}

func (m *MockStorage) FindUserByAPIKey(ctx context.Context, apiKey string) (*user.User, bool, error) {
	args := m.Called(ctx, apiKey)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Bool(1), args.Error(2)
}

func (m *MockStorage) UpdateUser(ctx context.Context, usr *user.User) error {
	args := m.Called(ctx, usr)
	return args.Error(0)
}

func (m *MockStorage) GetAllUsers(ctx context.Context) ([]user.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]user.User)
	return users, args.Error(1)
}

func (m *MockStorage) AppendPayment(ctx context.Context, record models.PaymentRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStorage) GetPaymentsByUser(ctx context.Context, userID string) ([]models.PaymentRecord, error) {
	args := m.Called(ctx, userID)
	records, _ := args.Get(0).([]models.PaymentRecord)
	return records, args.Error(1)
}

func (m *MockStorage) AppendQrCode(ctx context.Context, record models.QrCodeRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStorage) GetQrCodesByOwner(ctx context.Context, ownerUserID string) ([]models.QrCodeRecord, error) {
	args := m.Called(ctx, ownerUserID)
	records, _ := args.Get(0).([]models.QrCodeRecord)
	return records, args.Error(1)
}

func (m *MockStorage) AppendScan(ctx context.Context, record models.ScanRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStorage) GetScansByOwner(ctx context.Context, ownerUserID string) ([]models.ScanRecord, error) {
	args := m.Called(ctx, ownerUserID)
	records, _ := args.Get(0).([]models.ScanRecord)
	return records, args.Error(1)
}

func (m *MockStorage) GetNumberOfLinks(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) GetNumberOfUsers(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}
