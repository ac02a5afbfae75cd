package types

import (
	"fmt"
	"sort"
	"strings"
)

// SearchRequest describes one combined-listing search. It is immutable once
// constructed; CacheKey derives the cache identity from every field that
// affects the result set.
type SearchRequest struct {
	ServiceType string            `json:"service_type"`
	Location    Location          `json:"location"`
	CheckIn     string            `json:"check_in,omitempty"`
	CheckOut    string            `json:"check_out,omitempty"`
	Filters     map[string]string `json:"filters,omitempty"`
	SortBy      string            `json:"sort_by,omitempty"`
	SortOrder   string            `json:"sort_order,omitempty"`
	Page        int               `json:"page"`
	PageSize    int               `json:"page_size"`
}

// Location is either a city/country pair or a lat-lng point with a radius.
type Location struct {
	City     string  `json:"city,omitempty"`
	Country  string  `json:"country,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lng      float64 `json:"lng,omitempty"`
	RadiusKm float64 `json:"radius_km,omitempty"`
}

// CacheKey builds a deterministic cache key from the request. Filter keys are
// sorted so two requests with identical filters always map to the same entry,
// and pagination is part of the key so distinct pages are distinct entries.
func (r *SearchRequest) CacheKey() string {
	var b strings.Builder
	b.WriteString("search:")
	b.WriteString(r.ServiceType)
	fmt.Fprintf(&b, ":%s:%s:%.4f:%.4f:%.1f",
		strings.ToLower(r.Location.City),
		strings.ToLower(r.Location.Country),
		r.Location.Lat, r.Location.Lng, r.Location.RadiusKm)
	fmt.Fprintf(&b, ":%s:%s:%s:%s", r.CheckIn, r.CheckOut, r.SortBy, r.SortOrder)

	keys := make([]string, 0, len(r.Filters))
	for k := range r.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s=%s", k, r.Filters[k])
	}

	fmt.Fprintf(&b, ":p%d:s%d", r.Page, r.PageSize)
	return b.String()
}

// NormalizedListing is a listing in the common shape all sources are mapped
// into before merging. Score must be populated before merge; local listings
// compute it synchronously, provider listings carry whatever the provider
// returned (zero if absent).
type NormalizedListing struct {
	Source      string            `json:"source"`
	ExternalID  string            `json:"external_id"`
	ServiceType string            `json:"service_type"`
	Title       string            `json:"title"`
	City        string            `json:"city,omitempty"`
	Country     string            `json:"country,omitempty"`
	Score       float64           `json:"score"`
	Price       float64           `json:"price,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Rating      float64           `json:"rating,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SourceLocal identifies listings served from the local datastore.
const SourceLocal = "local"

// CombinedResult is one page of the merged result set. Entries are immutable
// snapshots; the cache stores them verbatim.
type CombinedResult struct {
	TotalCount   int                 `json:"total_count"`
	Items        []NormalizedListing `json:"items"`
	Page         int                 `json:"page"`
	PageSize     int                 `json:"page_size"`
	HasMore      bool                `json:"has_more"`
	SourceCounts map[string]int      `json:"source_counts"`
}
