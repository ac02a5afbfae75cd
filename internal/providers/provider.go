package providers

import (
	"context"
	"errors"
	"time"

	"github.com/alex-user-go/listings/internal/search/types"
)

// Provider is the contract every external listing source implements. Ordinary
// remote failures (network errors, 4xx/5xx) are returned as errors; callers
// treat an error as an empty contribution from that source.
type Provider interface {
	// Search returns the provider's listings for the request, already mapped
	// into the normalized shape.
	Search(ctx context.Context, req *types.SearchRequest) ([]types.NormalizedListing, error)

	// IsHealthy probes provider availability.
	IsHealthy(ctx context.Context) (bool, error)

	// Quota reports current API quota usage. A Limit of zero means the
	// provider has no quota concept.
	Quota(ctx context.Context) (Quota, error)
}

// Quota is a point-in-time quota snapshot.
type Quota struct {
	Used    int64     `json:"used"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// ErrProviderUnavailable is returned when a provider is unavailable.
var ErrProviderUnavailable = errors.New("provider unavailable")
