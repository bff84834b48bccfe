// Package service is the orchestration facade the HTTP layer talks to. It
// composes the authorization resolver, the alias allocator, the link
// resolver, the key issuer, the accounts service and the payments service
// behind one API, so handlers never combine permission checks ad hoc.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/thoas/go-funk"

	"github.com/quicklnk/quicklnk/internal/allocator"
	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/policy"
	"github.com/quicklnk/quicklnk/internal/resolver"
	"github.com/quicklnk/quicklnk/internal/user"
)

type linkKeeper interface {
	FindLinkByID(ctx context.Context, id string) (*models.LinkRecord, bool, error)
	GetLinksByOwner(ctx context.Context, ownerUserID string) ([]models.LinkRecord, error)
	DeleteLink(ctx context.Context, id string) error
	ExtendLinks(
		ctx context.Context,
		ownerUserID string,
		ids []string,
		newExpiresAt models.Millis,
	) error
}

type ledgerKeeper interface {
	GetPaymentsByUser(ctx context.Context, userID string) ([]models.PaymentRecord, error)
	AppendQrCode(ctx context.Context, record models.QrCodeRecord) error
	GetQrCodesByOwner(ctx context.Context, ownerUserID string) ([]models.QrCodeRecord, error)
	AppendScan(ctx context.Context, record models.ScanRecord) error
	GetScansByOwner(ctx context.Context, ownerUserID string) ([]models.ScanRecord, error)
}

type statsKeeper interface {
	GetNumberOfLinks(ctx context.Context) (int64, error)
	GetNumberOfUsers(ctx context.Context) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type storage interface {
	linkKeeper
	ledgerKeeper
	statsKeeper
	pinger
}

type cascadeRemover interface {
	EnqueueJob(job *models.CascadeDeleteJob)
}

// Service wires the engine components together.
type Service struct {
	db        storage
	policy    *policy.Resolver
	allocator *allocator.Allocator
	resolver  *resolver.Resolver
	remover   cascadeRemover
	clock     clock.Clock
}

// New creates the facade.
func New(
	db storage,
	policyResolver *policy.Resolver,
	aliasAllocator *allocator.Allocator,
	linkResolver *resolver.Resolver,
	remover cascadeRemover,
	clk clock.Clock,
) *Service {
	return &Service{
		db:        db,
		policy:    policyResolver,
		allocator: aliasAllocator,
		resolver:  linkResolver,
		remover:   remover,
		clock:     clk,
	}
}

// Shorten creates a link on the interactive path. usr is nil for anonymous
// callers; origin is the display origin derived from the request's
// forwarded headers.
func (s *Service) Shorten(
	ctx context.Context,
	usr *user.User,
	req models.ShortenRequest,
	origin string,
) (models.LinkRecord, error) {
	expiryPolicy := s.policy.Resolve(policy.Principal{User: usr})

	ownerUserID := ""
	if usr != nil {
		ownerUserID = usr.ID
	}

	return s.allocator.Allocate(ctx, allocator.Request{
		LongURL:      req.LongURL,
		Alias:        req.Alias,
		OwnerUserID:  ownerUserID,
		ShortURLBase: origin,
		Policy:       expiryPolicy,
		Custom:       req.CustomExpiry,
	})
}

// ShortenWithAPIKey creates a link on the developer API path. The issued
// link always co-terminates with the key's subscription.
func (s *Service) ShortenWithAPIKey(
	ctx context.Context,
	apiKey string,
	req models.ShortenRequest,
	origin string,
) (models.LinkRecord, error) {
	usr, expiryPolicy, err := s.policy.ResolveAPIKey(ctx, apiKey)
	if err != nil {
		return models.LinkRecord{}, err
	}

	return s.allocator.Allocate(ctx, allocator.Request{
		LongURL:      req.LongURL,
		Alias:        req.Alias,
		OwnerUserID:  usr.ID,
		ShortURLBase: origin,
		Policy:       expiryPolicy,
	})
}

// ResolveAlias classifies an alias for redirection.
func (s *Service) ResolveAlias(
	ctx context.Context,
	alias string,
) (*models.LinkRecord, resolver.Status, error) {
	return s.resolver.Resolve(ctx, alias)
}

// GetUserLinks returns the caller's links split by derived activeness,
// with links inside the warning threshold flagged separately.
func (s *Service) GetUserLinks(
	ctx context.Context,
	usr *user.User,
) (models.UserLinksResponse, error) {
	links, err := s.db.GetLinksByOwner(ctx, usr.ID)
	if err != nil {
		return models.UserLinksResponse{}, fmt.Errorf(
			"in internal/service/service.go/GetUserLinks(): error while `s.db.GetLinksByOwner()` calling: %w",
			err,
		)
	}

	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt > links[j].CreatedAt
	})

	now := s.clock.Now()
	warningEdge := now.Add(time.Duration(usr.Settings.WarningThresholdHours) * time.Hour)

	active := funk.Filter(links, func(record models.LinkRecord) bool {
		return record.ActiveAt(now)
	}).([]models.LinkRecord)

	return models.UserLinksResponse{
		Active: active,
		ExpiringSoon: funk.Filter(active, func(record models.LinkRecord) bool {
			return !record.ExpiresAt.IsNever() && !record.ExpiresAt.After(warningEdge)
		}).([]models.LinkRecord),
		Expired: funk.Filter(links, func(record models.LinkRecord) bool {
			return !record.ActiveAt(now)
		}).([]models.LinkRecord),
	}, nil
}

// DeleteLink removes one link. Only the owner or an admin may delete it;
// others get NotFound so link ids are not probeable.
func (s *Service) DeleteLink(ctx context.Context, usr *user.User, id string) error {
	record, found, err := s.db.FindLinkByID(ctx, id)
	if err != nil {
		return fmt.Errorf(
			"in internal/service/service.go/DeleteLink(): error while `s.db.FindLinkByID()` calling: %w",
			err,
		)
	}
	if !found {
		return models.ErrNotFound
	}

	if record.OwnerUserID != usr.ID && !usr.IsAdmin {
		return models.ErrNotFound
	}

	return s.db.DeleteLink(ctx, id)
}

// DeleteLinksByOwnerAsync enqueues the cascade deletion of every link a
// user owns.
func (s *Service) DeleteLinksByOwnerAsync(ownerUserID string) {
	s.remover.EnqueueJob(&models.CascadeDeleteJob{OwnerUserID: ownerUserID})
}

// ExtendLinks is the owner-initiated expiry extension, the only mutation a
// LinkRecord ever sees.
func (s *Service) ExtendLinks(
	ctx context.Context,
	usr *user.User,
	req models.ExtendRequest,
) error {
	return s.db.ExtendLinks(ctx, usr.ID, req.IDs, req.NewExpiresAt)
}

// GetPayments returns the caller's payment receipts.
func (s *Service) GetPayments(
	ctx context.Context,
	usr *user.User,
) ([]models.PaymentRecord, error) {
	return s.db.GetPaymentsByUser(ctx, usr.ID)
}

// RecordQrCode appends a QR generation event attributed to the optional
// caller.
func (s *Service) RecordQrCode(
	ctx context.Context,
	usr *user.User,
	req models.QrCodeRequest,
) (models.QrCodeRecord, error) {
	record := models.QrCodeRecord{
		ID:        uuid.New().String(),
		Type:      req.Type,
		Payload:   req.Payload,
		CreatedAt: models.MillisFromTime(s.clock.Now()),
	}
	if usr != nil {
		record.OwnerUserID = usr.ID
	}

	if err := s.db.AppendQrCode(ctx, record); err != nil {
		return models.QrCodeRecord{}, err
	}

	return record, nil
}

// GetQrCodes returns the caller's QR generation events.
func (s *Service) GetQrCodes(
	ctx context.Context,
	usr *user.User,
) ([]models.QrCodeRecord, error) {
	return s.db.GetQrCodesByOwner(ctx, usr.ID)
}

// RecordScan appends a QR scan event attributed to the optional caller.
func (s *Service) RecordScan(
	ctx context.Context,
	usr *user.User,
	req models.ScanRequest,
) (models.ScanRecord, error) {
	record := models.ScanRecord{
		ID:        uuid.New().String(),
		Content:   req.Content,
		ScannedAt: models.MillisFromTime(s.clock.Now()),
	}
	if usr != nil {
		record.OwnerUserID = usr.ID
	}

	if err := s.db.AppendScan(ctx, record); err != nil {
		return models.ScanRecord{}, err
	}

	return record, nil
}

// GetScans returns the caller's scan events.
func (s *Service) GetScans(
	ctx context.Context,
	usr *user.User,
) ([]models.ScanRecord, error) {
	return s.db.GetScansByOwner(ctx, usr.ID)
}

// GetInternalStats returns totals for the trusted-subnet endpoint.
func (s *Service) GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error) {
	links, err := s.db.GetNumberOfLinks(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	users, err := s.db.GetNumberOfUsers(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	return models.InternalStatsResponse{
		URLs:  links,
		Users: users,
	}, nil
}

// Ping checks the health of the storage layer.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
