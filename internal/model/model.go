// Package model defines the domain types used across the application.
package model

import (
	"strconv"
	"time"
)

// Filter is one owner's subscription to a search URL on the source site.
type Filter struct {
	ID        int64
	OwnerID   string
	URL       string
	Name      string
	CreatedAt time.Time
}

// DisplayName returns the filter name, or a generic label when it has none.
func (f Filter) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return "Filter #" + strconv.FormatInt(f.ID, 10)
}

// SeenListing records that a listing has already been reported.
type SeenListing struct {
	ListingID string
	Title     string
	Price     string
	URL       string
	FirstSeen time.Time
}

// Listing is a single classified ad extracted from a fetched page.
// It is not persisted; only its ID is compared against SeenListing.
type Listing struct {
	ID       string
	Title    string
	Price    string
	URL      string
	Location string
	Details  []string
}

// Seen converts the listing into the record stored by the dedupe store.
func (l Listing) Seen() SeenListing {
	return SeenListing{
		ListingID: l.ID,
		Title:     l.Title,
		Price:     l.Price,
		URL:       l.URL,
	}
}
