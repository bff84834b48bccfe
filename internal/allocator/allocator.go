// Package allocator implements alias allocation: URL validation, alias
// normalization and generation, expiry computation and the single
// conditional write that resolves collisions and reclaims expired aliases.
package allocator

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/policy"
)

const (
	aliasCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
	aliasLength  = 6
)

var aliasPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

type linkUpserter interface {
	UpsertLinkByAlias(ctx context.Context, record models.LinkRecord, now time.Time) error
}

// Allocator turns a creation request into a persisted LinkRecord.
type Allocator struct {
	db    linkUpserter
	clock clock.Clock
}

// Request carries everything an allocation needs. ShortURLBase is the
// display origin derived by the caller from the request's forwarded
// headers.
type Request struct {
	LongURL      string
	Alias        string
	OwnerUserID  string
	ShortURLBase string
	Policy       policy.ExpiryPolicy
	Custom       *models.CustomExpiry
}

// New creates an Allocator.
func New(db linkUpserter, clk clock.Clock) *Allocator {
	return &Allocator{
		db:    db,
		clock: clk,
	}
}

// Allocate validates the request, computes the expiry under the resolved
// policy and persists the record with exactly one store write. The write
// is an upsert keyed on alias, conditional on any incumbent being expired,
// which keeps the one-active-record-per-alias invariant without a separate
// garbage collection pass.
func (a *Allocator) Allocate(ctx context.Context, req Request) (models.LinkRecord, error) {
	longURL := strings.TrimSpace(req.LongURL)
	if !isValidLongURL(longURL) {
		return models.LinkRecord{}, fmt.Errorf(
			"%w: longUrl must be an absolute http(s) URL",
			models.ErrInvalidInput,
		)
	}

	alias, err := normalizeAlias(req.Alias)
	if err != nil {
		return models.LinkRecord{}, err
	}
	if alias == "" {
		alias, err = randomAlias()
		if err != nil {
			return models.LinkRecord{}, fmt.Errorf(
				"in internal/allocator/allocator.go/Allocate(): error while `randomAlias()` calling: %w",
				err,
			)
		}
	}

	now := a.clock.Now()

	expiresAt, err := req.Policy.ExpiryAt(now, req.Custom)
	if err != nil {
		return models.LinkRecord{}, err
	}

	record := models.LinkRecord{
		ID:          uuid.New().String(),
		LongURL:     longURL,
		Alias:       alias,
		ShortURL:    strings.TrimRight(req.ShortURLBase, "/") + "/" + alias,
		CreatedAt:   models.MillisFromTime(now),
		ExpiresAt:   expiresAt,
		OwnerUserID: req.OwnerUserID,
	}

	if err := a.db.UpsertLinkByAlias(ctx, record, now); err != nil {
		return models.LinkRecord{}, err
	}

	return record, nil
}

func normalizeAlias(alias string) (string, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" {
		return "", nil
	}
	if !aliasPattern.MatchString(alias) {
		return "", fmt.Errorf(
			"%w: alias may contain lowercase letters, digits and hyphens only",
			models.ErrInvalidInput,
		)
	}

	return alias, nil
}

func randomAlias() (string, error) {
	result := make([]byte, aliasLength)
	charsetLength := big.NewInt(int64(len(aliasCharset)))
	for i := range result {
		index, err := rand.Int(rand.Reader, charsetLength)
		if err != nil {
			return "", err
		}
		result[i] = aliasCharset[index.Int64()]
	}

	return string(result), nil
}

func isValidLongURL(candidate string) bool {
	parsed, err := url.Parse(candidate)

	return err == nil &&
		(parsed.Scheme == "http" || parsed.Scheme == "https") &&
		parsed.Host != ""
}
