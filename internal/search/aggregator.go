package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alex-user-go/listings/internal/obs"
	"github.com/alex-user-go/listings/internal/providers"
	"github.com/alex-user-go/listings/internal/search/cache"
	"github.com/alex-user-go/listings/internal/search/types"
	"github.com/alex-user-go/listings/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	saveTimeout     = 5 * time.Second
)

// Aggregator serves combined searches: local store plus every enabled
// provider, fanned out concurrently, merged deterministically, cached.
type Aggregator struct {
	store           store.Store
	registry        *providers.Registry
	cache           cache.Cache
	cacheTTL        time.Duration
	providerTimeout time.Duration
	metrics         *obs.Metrics
	logger          *slog.Logger
}

// NewAggregator creates a new Aggregator.
func NewAggregator(
	st store.Store,
	registry *providers.Registry,
	c cache.Cache,
	cacheTTL time.Duration,
	providerTimeout time.Duration,
	metrics *obs.Metrics,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		store:           st,
		registry:        registry,
		cache:           c,
		cacheTTL:        cacheTTL,
		providerTimeout: providerTimeout,
		metrics:         metrics,
		logger:          logger,
	}
}

// SearchCombined runs one combined search. Every external-dependency failure
// degrades: a failed local query means zero local results, a failed or
// disabled provider contributes nothing, a failing cache backend only
// forfeits caching. Only programmer errors propagate.
func (a *Aggregator) SearchCombined(ctx context.Context, req *types.SearchRequest) (*types.CombinedResult, error) {
	start := time.Now()
	normalizePaging(req)
	key := req.CacheKey()

	if cached, ok, err := a.cache.Get(ctx, key); err != nil {
		a.logger.Warn("cache read failed", "key", key, "error", err)
	} else if ok {
		a.metrics.SearchesTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}

	var (
		wg     sync.WaitGroup
		local  []types.NormalizedListing
		descs  = a.registry.ForServiceType(req.ServiceType)
		groups = make([]ProviderGroup, len(descs))
	)

	// Local store and all enabled providers run concurrently; nothing is
	// sequenced behind anything else.
	wg.Go(func() {
		local = a.fetchLocal(ctx, req)
	})

	for i, desc := range descs {
		groups[i] = ProviderGroup{Source: desc.ID, Cap: desc.MaxListings}
		if !desc.Enabled() {
			continue
		}
		wg.Go(func() {
			groups[i].Listings = a.fetchProvider(ctx, desc, req)
		})
	}

	wg.Wait()

	merged := MergeListings(local, groups)

	startIdx := (req.Page - 1) * req.PageSize
	endIdx := startIdx + req.PageSize
	var items []types.NormalizedListing
	if startIdx < len(merged) {
		if endIdx > len(merged) {
			endIdx = len(merged)
		}
		items = merged[startIdx:endIdx]
	}

	counts := make(map[string]int, len(groups)+1)
	for _, l := range merged {
		counts[l.Source]++
	}

	result := &types.CombinedResult{
		TotalCount:   len(merged),
		Items:        items,
		Page:         req.Page,
		PageSize:     req.PageSize,
		HasMore:      startIdx+req.PageSize < len(merged),
		SourceCounts: counts,
	}

	if err := a.cache.Set(ctx, key, result, a.cacheTTL); err != nil {
		a.logger.Warn("cache write failed", "key", key, "error", err)
	}

	a.metrics.SearchesTotal.WithLabelValues("miss").Inc()
	a.metrics.SearchDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

// fetchLocal queries the local store and re-scores each row. Score updates
// are persisted fire-and-forget; a store failure degrades to zero local
// results.
func (a *Aggregator) fetchLocal(ctx context.Context, req *types.SearchRequest) []types.NormalizedListing {
	rows, err := a.store.FindListings(ctx, req)
	if err != nil {
		a.logger.Error("local store query failed", "service_type", req.ServiceType, "error", err)
		return nil
	}

	out := make([]types.NormalizedListing, 0, len(rows))
	for _, row := range rows {
		listing := row.Normalized()
		listing.Score = ScoreListing(listing)
		row.SetScore(listing.Score)
		out = append(out, listing)

		go func(r store.Listing) {
			saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			defer cancel()
			if err := r.Save(saveCtx); err != nil {
				a.logger.Warn("failed to persist listing score", "error", err)
			}
		}(row)
	}
	return out
}

// fetchProvider calls one provider under its own timeout. Failures and
// timeouts are isolated to the provider and never abort the request; they
// also do not feed the circuit breaker, which is driven solely by the health
// monitor's dedicated probes.
func (a *Aggregator) fetchProvider(ctx context.Context, desc *providers.Descriptor, req *types.SearchRequest) []types.NormalizedListing {
	pctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
	defer cancel()

	listings, err := desc.Provider().Search(pctx, req)
	if err != nil {
		a.metrics.ProviderErrors.WithLabelValues(desc.ID).Inc()
		a.logger.Warn("provider search failed", "provider", desc.ID, "error", err)
		return nil
	}

	for i := range listings {
		listings[i].Source = desc.ID
	}
	return listings
}

func normalizePaging(req *types.SearchRequest) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}
}
