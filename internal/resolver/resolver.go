// Package resolver implements alias resolution for redirection. Expiry is a
// derived predicate evaluated fresh on every call; nothing ever sweeps
// expired records.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/models"
)

// Status classifies a resolution outcome. Expired and NotFound both render
// as a generic not-found to end users, but callers such as alias
// reclamation need to tell "alias exists but is free" from "alias never
// existed".
type Status int

// Resolution outcomes.
const (
	Active Status = iota
	Expired
	NotFound
)

type linkFinder interface {
	FindLinkByAlias(ctx context.Context, alias string) (*models.LinkRecord, bool, error)
}

// Resolver looks up the active record behind an alias.
type Resolver struct {
	db    linkFinder
	clock clock.Clock
}

// New creates a Resolver.
func New(db linkFinder, clk clock.Clock) *Resolver {
	return &Resolver{
		db:    db,
		clock: clk,
	}
}

// Resolve performs a case-insensitive lookup and classifies the record
// against the current instant. The record is returned for Active and
// Expired outcomes, nil for NotFound.
func (r *Resolver) Resolve(
	ctx context.Context,
	alias string,
) (*models.LinkRecord, Status, error) {
	record, found, err := r.db.FindLinkByAlias(ctx, strings.ToLower(strings.TrimSpace(alias)))
	if err != nil {
		return nil, NotFound, fmt.Errorf(
			"in internal/resolver/resolver.go/Resolve(): error while `r.db.FindLinkByAlias()` calling: %w",
			err,
		)
	}
	if !found {
		return nil, NotFound, nil
	}

	if !record.ActiveAt(r.clock.Now()) {
		return record, Expired, nil
	}

	return record, Active, nil
}
