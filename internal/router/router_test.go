package router_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicklnk/quicklnk/internal/accounts"
	"github.com/quicklnk/quicklnk/internal/allocator"
	"github.com/quicklnk/quicklnk/internal/apikeys"
	"github.com/quicklnk/quicklnk/internal/auth"
	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/db/memorystorage"
	"github.com/quicklnk/quicklnk/internal/ipchecker"
	"github.com/quicklnk/quicklnk/internal/linksremover"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/payments"
	"github.com/quicklnk/quicklnk/internal/policy"
	"github.com/quicklnk/quicklnk/internal/resolver"
	"github.com/quicklnk/quicklnk/internal/router"
	"github.com/quicklnk/quicklnk/internal/service"
)

const ownerEmail = "owner@example.com"

type testEnv struct {
	server   *httptest.Server
	db       *memorystorage.MemoryStorage
	clock    *clock.Fixed
	accounts *accounts.Accounts
	remover  *linksremover.LinksRemover
}

func newTestEnv(t *testing.T, trustedSubnet string) *testEnv {
	t.Helper()

	db, err := memorystorage.New()
	require.NoError(t, err)

	// Sessions are JWTs validated against the wall clock, so the test
	// instant must be near the real present.
	frozen := &clock.Fixed{Instant: time.Now().Truncate(time.Millisecond)}

	accountsSvc := accounts.New(db, frozen, ownerEmail)
	keysSvc := apikeys.New(db, frozen)
	remover := linksremover.New(db, 8, time.Hour)
	svc := service.New(
		db,
		policy.New(db, frozen),
		allocator.New(db, frozen),
		resolver.New(db, frozen),
		remover,
		frozen,
	)
	paymentsSvc := payments.New(
		payments.NewGateway("http://gateway.invalid", "", ""),
		db,
		accountsSvc,
		keysSvc,
		frozen,
	)
	ipChecker, err := ipchecker.New(trustedSubnet)
	require.NoError(t, err)

	handler := router.New(
		svc,
		accountsSvc,
		keysSvc,
		paymentsSvc,
		auth.New(db, "quicklnk_session", []byte("test-signing-secret")),
		ipChecker,
		frozen,
		"http://sho.rt",
	)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnv{
		server:   server,
		db:       db,
		clock:    frozen,
		accounts: accountsSvc,
		remover:  remover,
	}
}

func (env *testEnv) client() *resty.Client {
	return resty.New().
		SetBaseURL(env.server.URL).
		SetRedirectPolicy(resty.NoRedirectPolicy())
}

// register signs a user up and returns the session token from the
// Authorization response header.
func (env *testEnv) register(t *testing.T, name, email string) string {
	t.Helper()

	response, err := env.client().R().
		SetBody(models.RegisterRequest{
			Name:     name,
			Email:    email,
			Password: "secret-password",
		}).
		Post("/api/user/register")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode())

	token := response.Header().Get("Authorization")
	require.NotEmpty(t, token)

	return token
}

func (env *testEnv) ownerToken(t *testing.T) string {
	t.Helper()

	require.NoError(t, env.accounts.SeedOwner(context.Background(), "Site Owner", "owner-password"))

	response, err := env.client().R().
		SetBody(models.LoginRequest{Email: ownerEmail, Password: "owner-password"}).
		Post("/api/user/login")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode())

	return response.Header().Get("Authorization")
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, "")

	response, err := env.client().R().Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode())
}

func TestAnonymousShortenGetsDayLifetime(t *testing.T) {
	env := newTestEnv(t, "")

	var record models.LinkRecord
	response, err := env.client().R().
		SetBody(models.ShortenRequest{LongURL: "https://example.com/page"}).
		SetResult(&record).
		Post("/api/shorten")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode())

	assert.NotEmpty(t, record.Alias)
	assert.Equal(t, models.MillisFromTime(env.clock.Instant.Add(24*time.Hour)), record.ExpiresAt)
	assert.Empty(t, record.OwnerUserID)
}

func TestRegisteredShortenGetsWeekLifetime(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.register(t, "Alice", "alice@example.com")

	var record models.LinkRecord
	response, err := env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.ShortenRequest{LongURL: "https://example.com/page"}).
		SetResult(&record).
		Post("/api/shorten")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode())

	assert.Equal(t, models.MillisFromTime(env.clock.Instant.Add(7*24*time.Hour)), record.ExpiresAt)
	assert.NotEmpty(t, record.OwnerUserID)
}

func TestShortenRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		body any
	}{
		{name: "missing longUrl", body: models.ShortenRequest{}},
		{name: "relative longUrl", body: models.ShortenRequest{LongURL: "/relative"}},
		{name: "bad alias", body: models.ShortenRequest{LongURL: "https://example.com", Alias: "no spaces"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			response, err := env.client().R().SetBody(test.body).Post("/api/shorten")
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, response.StatusCode())
		})
	}
}

func TestShortenCustomExpiryRequiresGrant(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.register(t, "Alice", "alice@example.com")

	response, err := env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.ShortenRequest{
			LongURL:      "https://example.com",
			CustomExpiry: &models.CustomExpiry{Value: 10, Unit: "days"},
		}).
		Post("/api/shorten")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, response.StatusCode())
}

func TestOwnerCreatesPermanentLink(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.ownerToken(t)

	var record models.LinkRecord
	response, err := env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.ShortenRequest{
			LongURL:      "https://example.com",
			Alias:        "forever",
			CustomExpiry: &models.CustomExpiry{Permanent: true},
		}).
		SetResult(&record).
		Post("/api/shorten")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode())
	assert.True(t, record.ExpiresAt.IsNever())
}

func TestRedirect(t *testing.T) {
	env := newTestEnv(t, "")

	var record models.LinkRecord
	_, err := env.client().R().
		SetBody(models.ShortenRequest{LongURL: "https://example.com/target", Alias: "abc"}).
		SetResult(&record).
		Post("/api/shorten")
	require.NoError(t, err)

	response, _ := env.client().R().Get("/abc")
	assert.Equal(t, http.StatusTemporaryRedirect, response.StatusCode())
	assert.Equal(t, "https://example.com/target", response.Header().Get("Location"))

	// Unknown alias.
	response, err = env.client().R().Get("/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, response.StatusCode())

	// One second past expiry the same alias stops resolving.
	env.clock.Advance(24*time.Hour + time.Second)
	response, err = env.client().R().Get("/abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, response.StatusCode())
}

func TestAliasCollisionAndReclaim(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.client().R().
		SetBody(models.ShortenRequest{LongURL: "https://first.com", Alias: "abc"}).
		Post("/api/shorten")
	require.NoError(t, err)

	// Active alias blocks the slot.
	response, err := env.client().R().
		SetBody(models.ShortenRequest{LongURL: "https://second.com", Alias: "abc"}).
		Post("/api/shorten")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, response.StatusCode())

	// After the anonymous lifetime the alias is reclaimable.
	env.clock.Advance(24*time.Hour + time.Second)
	response, err = env.client().R().
		SetBody(models.ShortenRequest{LongURL: "https://second.com", Alias: "abc"}).
		Post("/api/shorten")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, response.StatusCode())

	redirect, _ := env.client().R().Get("/abc")
	assert.Equal(t, "https://second.com", redirect.Header().Get("Location"))
}

func TestShortURLUsesForwardedHeaders(t *testing.T) {
	env := newTestEnv(t, "")

	var record models.LinkRecord
	_, err := env.client().R().
		SetHeader("X-Forwarded-Proto", "https").
		SetHeader("X-Forwarded-Host", "qlnk.io").
		SetBody(models.ShortenRequest{LongURL: "https://example.com", Alias: "fwd"}).
		SetResult(&record).
		Post("/api/shorten")
	require.NoError(t, err)
	assert.Equal(t, "https://qlnk.io/fwd", record.ShortURL)
}

func TestRegisterConflictsAndLogin(t *testing.T) {
	env := newTestEnv(t, "")
	env.register(t, "Alice", "alice@example.com")

	response, err := env.client().R().
		SetBody(models.RegisterRequest{
			Name:     "Another Alice",
			Email:    "ALICE@example.com",
			Password: "secret-password",
		}).
		Post("/api/user/register")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, response.StatusCode())

	response, err = env.client().R().
		SetBody(models.LoginRequest{Email: "alice@example.com", Password: "wrong-password"}).
		Post("/api/user/login")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode())

	response, err = env.client().R().
		SetBody(models.LoginRequest{Email: "alice@example.com", Password: "secret-password"}).
		Post("/api/user/login")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode())
	assert.NotEmpty(t, response.Header().Get("Authorization"))
}

func TestUserURLsLifecycle(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.register(t, "Alice", "alice@example.com")

	response, err := env.client().R().Get("/api/user/urls")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode())

	var created models.LinkRecord
	_, err = env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.ShortenRequest{LongURL: "https://example.com", Alias: "mine"}).
		SetResult(&created).
		Post("/api/shorten")
	require.NoError(t, err)

	var listing models.UserLinksResponse
	response, err = env.client().R().
		SetHeader("Authorization", token).
		SetResult(&listing).
		Get("/api/user/urls")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode())
	require.Len(t, listing.Active, 1)
	assert.Equal(t, "mine", listing.Active[0].Alias)
	assert.Empty(t, listing.Expired)

	// Extend, then delete.
	newExpiry := models.MillisFromTime(env.clock.Instant.AddDate(0, 1, 0))
	response, err = env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.ExtendRequest{IDs: []string{created.ID}, NewExpiresAt: newExpiry}).
		Post("/api/user/urls/extend")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, response.StatusCode())

	extended, _, err := env.db.FindLinkByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, newExpiry, extended.ExpiresAt)

	response, err = env.client().R().
		SetHeader("Authorization", token).
		Delete("/api/user/urls/" + created.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, response.StatusCode())

	// A stranger deleting someone else's link gets 404.
	strangerToken := env.register(t, "Bob", "bob@example.com")
	var orphan models.LinkRecord
	_, err = env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.ShortenRequest{LongURL: "https://example.com", Alias: "mine2"}).
		SetResult(&orphan).
		Post("/api/shorten")
	require.NoError(t, err)

	response, err = env.client().R().
		SetHeader("Authorization", strangerToken).
		Delete("/api/user/urls/" + orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, response.StatusCode())
}

func TestAPIKeyIssuance(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.register(t, "Dev", "dev@example.com")

	var issued models.APIAccess
	response, err := env.client().R().
		SetHeader("Authorization", token).
		SetResult(&issued).
		Post("/api/user/apikey")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode())
	assert.Contains(t, issued.Key, "qk_live_")
	assert.Equal(t, models.APIPlanFree, issued.Subscription.Plan)

	// The second request conflicts but still carries the existing key.
	var repeated models.APIAccess
	response, err = env.client().R().
		SetHeader("Authorization", token).
		SetResult(&repeated).
		SetError(&repeated).
		Post("/api/user/apikey")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, response.StatusCode())
	assert.Equal(t, issued.Key, repeated.Key)
}

func TestDeveloperAPIShorten(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.register(t, "Dev", "dev@example.com")

	var issued models.APIAccess
	_, err := env.client().R().
		SetHeader("Authorization", token).
		SetResult(&issued).
		Post("/api/user/apikey")
	require.NoError(t, err)

	// Missing and malformed credentials.
	response, err := env.client().R().
		SetBody(models.ShortenRequest{LongURL: "https://example.com"}).
		Post("/api/v1/shorten")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode())

	response, err = env.client().R().
		SetHeader("Authorization", "Token "+issued.Key).
		SetBody(models.ShortenRequest{LongURL: "https://example.com"}).
		Post("/api/v1/shorten")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode())

	// A key matching no user is rejected as Forbidden, not Unauthorized:
	// a credential was presented, it just grants nothing.
	response, err = env.client().R().
		SetHeader("Authorization", "Bearer qk_live_unknown").
		SetBody(models.ShortenRequest{LongURL: "https://example.com"}).
		Post("/api/v1/shorten")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, response.StatusCode())

	// A valid key issues a link pinned to the subscription expiry.
	var record models.LinkRecord
	response, err = env.client().R().
		SetHeader("Authorization", "Bearer "+issued.Key).
		SetBody(models.ShortenRequest{LongURL: "https://example.com"}).
		SetResult(&record).
		Post("/api/v1/shorten")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode())
	assert.Equal(t, issued.Subscription.ExpiresAt, record.ExpiresAt)

	// Past the subscription's end the key turns Forbidden and no link is
	// written.
	env.clock.Advance(31 * 24 * time.Hour)
	before, err := env.db.GetNumberOfLinks(context.Background())
	require.NoError(t, err)

	response, err = env.client().R().
		SetHeader("Authorization", "Bearer "+issued.Key).
		SetBody(models.ShortenRequest{LongURL: "https://example.com"}).
		Post("/api/v1/shorten")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, response.StatusCode())

	after, err := env.db.GetNumberOfLinks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSettingsUpdate(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.register(t, "Alice", "alice@example.com")

	response, err := env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.SettingsRequest{WarningThresholdHours: 72}).
		Put("/api/user/settings")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode())
	assert.NotContains(t, string(response.Body()), "passwordHash\":\"$")
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	ownerToken := env.ownerToken(t)
	userToken := env.register(t, "Alice", "alice@example.com")

	// Non-admin callers are rejected.
	response, err := env.client().R().
		SetHeader("Authorization", userToken).
		Get("/api/admin/users")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, response.StatusCode())

	response, err = env.client().R().Get("/api/admin/users")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode())

	response, err = env.client().R().
		SetHeader("Authorization", ownerToken).
		Get("/api/admin/users")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode())

	// Grant the custom-expiry permission to the user.
	alice, _, err := env.db.FindUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)

	grant := true
	response, err = env.client().R().
		SetHeader("Authorization", ownerToken).
		SetBody(models.PermissionsRequest{CanSetCustomExpiry: &grant}).
		Put(fmt.Sprintf("/api/admin/users/%s/permissions", alice.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode())

	// The grant takes effect on the very next shorten call.
	var record models.LinkRecord
	response, err = env.client().R().
		SetHeader("Authorization", userToken).
		SetBody(models.ShortenRequest{
			LongURL:      "https://example.com",
			CustomExpiry: &models.CustomExpiry{Value: 3, Unit: "days"},
		}).
		SetResult(&record).
		Post("/api/shorten")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode())
	assert.Equal(
		t,
		models.MillisFromTime(env.clock.Instant.AddDate(0, 0, 3)),
		record.ExpiresAt,
	)

	// The owner's admin flag cannot be cleared.
	owner, _, err := env.db.FindUserByEmail(context.Background(), ownerEmail)
	require.NoError(t, err)

	revoke := false
	response, err = env.client().R().
		SetHeader("Authorization", ownerToken).
		SetBody(models.PermissionsRequest{IsAdmin: &revoke}).
		Put(fmt.Sprintf("/api/admin/users/%s/permissions", owner.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, response.StatusCode())

	// Cascade deletion is accepted for asynchronous processing.
	response, err = env.client().R().
		SetHeader("Authorization", ownerToken).
		Delete(fmt.Sprintf("/api/admin/users/%s/urls", alice.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, response.StatusCode())
}

func TestInternalStats(t *testing.T) {
	env := newTestEnv(t, "10.0.0.0/8")

	response, err := env.client().R().
		SetHeader("X-Real-IP", "192.168.1.1").
		Get("/api/internal/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, response.StatusCode())

	var stats models.InternalStatsResponse
	response, err = env.client().R().
		SetHeader("X-Real-IP", "10.1.2.3").
		SetResult(&stats).
		Get("/api/internal/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode())
	assert.Zero(t, stats.URLs)

	// Without a configured subnet the endpoint is closed entirely.
	closedEnv := newTestEnv(t, "")
	response, err = closedEnv.client().R().
		SetHeader("X-Real-IP", "10.1.2.3").
		Get("/api/internal/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, response.StatusCode())
}

func TestQrCodeAndScanLogs(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.register(t, "Alice", "alice@example.com")

	response, err := env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.QrCodeRequest{Type: "url", Payload: "http://sho.rt/abc"}).
		Post("/api/qrcodes")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, response.StatusCode())

	response, err = env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.ScanRequest{Content: "http://sho.rt/abc"}).
		Post("/api/scans")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, response.StatusCode())

	var qrCodes []models.QrCodeRecord
	response, err = env.client().R().
		SetHeader("Authorization", token).
		SetResult(&qrCodes).
		Get("/api/user/qrcodes")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode())
	assert.Len(t, qrCodes, 1)

	var scans []models.ScanRecord
	response, err = env.client().R().
		SetHeader("Authorization", token).
		SetResult(&scans).
		Get("/api/user/scans")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode())
	assert.Len(t, scans, 1)
}

func TestPaymentConfirmEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.register(t, "Alice", "alice@example.com")

	var receipt models.PaymentRecord
	response, err := env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.ConfirmPaymentRequest{
			PaymentID:     "pay-1",
			Kind:          models.PurchaseSubscription,
			Plan:          "monthly",
			Amount:        299,
			Currency:      "RUB",
			DurationLabel: "1 month",
		}).
		SetResult(&receipt).
		Post("/api/payments/confirm")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode())
	assert.Equal(t, "pay-1", receipt.PaymentID)

	var receipts []models.PaymentRecord
	response, err = env.client().R().
		SetHeader("Authorization", token).
		SetResult(&receipts).
		Get("/api/user/payments")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode())
	assert.Len(t, receipts, 1)

	// A subscription default now applies to the user's links.
	var record models.LinkRecord
	response, err = env.client().R().
		SetHeader("Authorization", token).
		SetBody(models.ShortenRequest{LongURL: "https://example.com"}).
		SetResult(&record).
		Post("/api/shorten")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode())
	assert.Equal(
		t,
		models.MillisFromTime(env.clock.Instant.Add(30*24*time.Hour)),
		record.ExpiresAt,
	)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, "")
	env.register(t, "Alice", "alice@example.com")

	response, err := env.client().R().Post("/api/user/logout")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, response.StatusCode())
}
