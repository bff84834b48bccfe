package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quicklnk/quicklnk/internal/allocator"
	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/mockstorage"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/policy"
	"github.com/quicklnk/quicklnk/internal/resolver"
	"github.com/quicklnk/quicklnk/internal/user"
)

var testInstant = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingRemover struct {
	jobs []*models.CascadeDeleteJob
}

func (r *recordingRemover) EnqueueJob(job *models.CascadeDeleteJob) {
	r.jobs = append(r.jobs, job)
}

func newService(db *mockstorage.MockStorage) (*Service, *recordingRemover) {
	frozen := &clock.Fixed{Instant: testInstant}
	remover := &recordingRemover{}

	return New(
		db,
		policy.New(db, frozen),
		allocator.New(db, frozen),
		resolver.New(db, frozen),
		remover,
		frozen,
	), remover
}

func TestGetUserLinksBuckets(t *testing.T) {
	db := mockstorage.New()
	svc, _ := newService(db)

	usr := &user.User{
		ID:       "alice",
		Settings: models.Settings{WarningThresholdHours: 24},
	}

	longLived := models.LinkRecord{
		ID:          "long",
		OwnerUserID: "alice",
		CreatedAt:   models.MillisFromTime(testInstant.Add(-3 * time.Hour)),
		ExpiresAt:   models.MillisFromTime(testInstant.AddDate(0, 1, 0)),
	}
	expiringSoon := models.LinkRecord{
		ID:          "soon",
		OwnerUserID: "alice",
		CreatedAt:   models.MillisFromTime(testInstant.Add(-2 * time.Hour)),
		ExpiresAt:   models.MillisFromTime(testInstant.Add(3 * time.Hour)),
	}
	expired := models.LinkRecord{
		ID:          "gone",
		OwnerUserID: "alice",
		CreatedAt:   models.MillisFromTime(testInstant.Add(-time.Hour)),
		ExpiresAt:   models.MillisFromTime(testInstant.Add(-time.Minute)),
	}
	permanent := models.LinkRecord{
		ID:          "forever",
		OwnerUserID: "alice",
		CreatedAt:   models.MillisFromTime(testInstant.Add(-4 * time.Hour)),
		ExpiresAt:   models.NeverExpires,
	}

	db.On("GetLinksByOwner", mock.Anything, "alice").
		Return([]models.LinkRecord{longLived, expiringSoon, expired, permanent}, nil)

	result, err := svc.GetUserLinks(context.Background(), usr)
	require.NoError(t, err)

	activeIDs := make([]string, 0, len(result.Active))
	for _, record := range result.Active {
		activeIDs = append(activeIDs, record.ID)
	}
	assert.ElementsMatch(t, []string{"long", "soon", "forever"}, activeIDs)

	require.Len(t, result.ExpiringSoon, 1)
	assert.Equal(t, "soon", result.ExpiringSoon[0].ID)

	require.Len(t, result.Expired, 1)
	assert.Equal(t, "gone", result.Expired[0].ID)

	// Newest first.
	assert.Equal(t, "soon", result.Active[0].ID)
}

func TestDeleteLinkAuthorization(t *testing.T) {
	record := &models.LinkRecord{ID: "id-1", OwnerUserID: "alice"}

	tests := []struct {
		name      string
		caller    *user.User
		found     bool
		wantErrIs error
		deletes   bool
	}{
		{
			name:    "owner deletes",
			caller:  &user.User{ID: "alice"},
			found:   true,
			deletes: true,
		},
		{
			name:    "admin deletes someone else's link",
			caller:  &user.User{ID: "root", IsAdmin: true},
			found:   true,
			deletes: true,
		},
		{
			name:      "stranger gets not found, not forbidden",
			caller:    &user.User{ID: "mallory"},
			found:     true,
			wantErrIs: models.ErrNotFound,
		},
		{
			name:      "missing link",
			caller:    &user.User{ID: "alice"},
			found:     false,
			wantErrIs: models.ErrNotFound,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db := mockstorage.New()
			svc, _ := newService(db)

			if test.found {
				db.On("FindLinkByID", mock.Anything, "id-1").Return(record, true, nil)
			} else {
				db.On("FindLinkByID", mock.Anything, "id-1").Return(nil, false, nil)
			}
			if test.deletes {
				db.On("DeleteLink", mock.Anything, "id-1").Return(nil)
			}

			err := svc.DeleteLink(context.Background(), test.caller, "id-1")
			if test.wantErrIs != nil {
				assert.True(t, errors.Is(err, test.wantErrIs))
			} else {
				assert.NoError(t, err)
			}
			db.AssertExpectations(t)
		})
	}
}

func TestDeleteLinksByOwnerAsyncEnqueues(t *testing.T) {
	db := mockstorage.New()
	svc, remover := newService(db)

	svc.DeleteLinksByOwnerAsync("alice")

	require.Len(t, remover.jobs, 1)
	assert.Equal(t, "alice", remover.jobs[0].OwnerUserID)
}

func TestShortenWithAPIKeyPinsExpiry(t *testing.T) {
	db := mockstorage.New()
	svc, _ := newService(db)

	subscriptionEnd := models.MillisFromTime(testInstant.Add(60 * 24 * time.Hour))
	db.On("FindUserByAPIKey", mock.Anything, "qk_live_ok").Return(&user.User{
		ID: "dev",
		APIAccess: &models.APIAccess{
			Key: "qk_live_ok",
			Subscription: models.APISubscription{
				Plan:      models.APIPlanBasic,
				ExpiresAt: subscriptionEnd,
			},
		},
	}, true, nil)
	db.On("UpsertLinkByAlias", mock.Anything, mock.MatchedBy(func(record models.LinkRecord) bool {
		return record.ExpiresAt == subscriptionEnd && record.OwnerUserID == "dev"
	}), testInstant).Return(nil)

	record, err := svc.ShortenWithAPIKey(
		context.Background(),
		"qk_live_ok",
		models.ShortenRequest{LongURL: "https://example.com"},
		"http://sho.rt",
	)
	require.NoError(t, err)
	assert.Equal(t, subscriptionEnd, record.ExpiresAt)
	db.AssertExpectations(t)
}

func TestShortenWithAPIKeyWritesNothingOnAuthFailure(t *testing.T) {
	db := mockstorage.New()
	svc, _ := newService(db)

	db.On("FindUserByAPIKey", mock.Anything, "qk_live_bad").Return(nil, false, nil)

	_, err := svc.ShortenWithAPIKey(
		context.Background(),
		"qk_live_bad",
		models.ShortenRequest{LongURL: "https://example.com"},
		"http://sho.rt",
	)
	assert.ErrorIs(t, err, models.ErrForbidden)
	db.AssertNotCalled(t, "UpsertLinkByAlias", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetInternalStats(t *testing.T) {
	db := mockstorage.New()
	svc, _ := newService(db)

	db.On("GetNumberOfLinks", mock.Anything).Return(int64(12), nil)
	db.On("GetNumberOfUsers", mock.Anything).Return(int64(3), nil)

	stats, err := svc.GetInternalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.URLs)
	assert.Equal(t, int64(3), stats.Users)
}
