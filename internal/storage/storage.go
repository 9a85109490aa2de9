// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"olx_bot/internal/model"
)

// ErrDuplicateFilter is returned by AddFilter when the owner already
// registered the same URL.
var ErrDuplicateFilter = errors.New("filter already registered")

// Filters is the filter registry: per-owner search URL subscriptions.
type Filters interface {
	AddFilter(ctx context.Context, ownerID, url, name string) (*model.Filter, error)
	RemoveFilter(ctx context.Context, ownerID string, id int64) (bool, error)
	ListFilters(ctx context.Context, ownerID string) ([]model.Filter, error)
	ListAllFilters(ctx context.Context) ([]model.Filter, error)
}

// Seen is the dedupe store: the global set of listings already reported.
type Seen interface {
	HasSeen(ctx context.Context, listingID string) (bool, error)
	MarkSeen(ctx context.Context, l model.SeenListing) error
	GetSeen(ctx context.Context, listingID string) (*model.SeenListing, error)
}

// Storage is the interface for all persistence operations.
type Storage interface {
	Filters
	Seen

	Close() error
}
