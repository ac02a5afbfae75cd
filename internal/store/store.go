// Package store defines the local-datastore contract the aggregator consumes.
// Query building and persistence live behind this interface; the core only
// needs rows it can re-score and save back.
package store

import (
	"context"

	"github.com/alex-user-go/listings/internal/search/types"
)

// Listing is one local row. The aggregator recomputes its score and persists
// the update through Save; Save failures never fail a search.
type Listing interface {
	// Normalized returns the listing in the common merge shape.
	Normalized() types.NormalizedListing

	// SetScore overwrites the listing's rank weight.
	SetScore(score float64)

	// Save persists the current state of the listing.
	Save(ctx context.Context) error
}

// Store executes local searches.
type Store interface {
	FindListings(ctx context.Context, req *types.SearchRequest) ([]Listing, error)
}
