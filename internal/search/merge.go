package search

import (
	"sort"

	"github.com/alex-user-go/listings/internal/search/types"
)

// ProviderGroup is one provider's contribution to a merge: its listings and
// the cap on how many of them may appear in the merged sequence. A cap of
// zero or less means uncapped.
type ProviderGroup struct {
	Source   string
	Cap      int
	Listings []types.NormalizedListing
}

// MergeListings produces the combined ordering: every local listing first,
// sorted by score descending, followed by a round-robin interleave of the
// provider groups. Each group is sorted by score descending and drawn from in
// rotation; a group leaves the rotation once it has contributed its cap or
// run out of listings. Rotation order is the order groups are passed in,
// which callers fix to provider registration order.
//
// The function is pure: identical inputs always produce the identical
// sequence, regardless of the real-world order provider responses arrived in.
func MergeListings(local []types.NormalizedListing, groups []ProviderGroup) []types.NormalizedListing {
	merged := make([]types.NormalizedListing, 0, mergeCapacity(local, groups))

	merged = append(merged, local...)
	sortByScore(merged)

	// Per-group sorted copies so the input slices stay untouched.
	sorted := make([][]types.NormalizedListing, len(groups))
	for i, g := range groups {
		cp := make([]types.NormalizedListing, len(g.Listings))
		copy(cp, g.Listings)
		sortByScore(cp)
		sorted[i] = cp
	}

	taken := make([]int, len(groups))
	active := make([]int, 0, len(groups))
	for i := range groups {
		if len(sorted[i]) > 0 {
			active = append(active, i)
		}
	}

	for len(active) > 0 {
		next := active[:0]
		for _, i := range active {
			merged = append(merged, sorted[i][taken[i]])
			taken[i]++
			if taken[i] < len(sorted[i]) && (groups[i].Cap <= 0 || taken[i] < groups[i].Cap) {
				next = append(next, i)
			}
		}
		active = next
	}

	return merged
}

// sortByScore orders listings by score descending. The sort is stable so
// equal scores keep their incoming relative order and the merge stays
// deterministic.
func sortByScore(listings []types.NormalizedListing) {
	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].Score > listings[j].Score
	})
}

func mergeCapacity(local []types.NormalizedListing, groups []ProviderGroup) int {
	n := len(local)
	for _, g := range groups {
		n += len(g.Listings)
	}
	return n
}
