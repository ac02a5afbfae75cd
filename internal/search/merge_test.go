package search_test

import (
	"reflect"
	"testing"

	"github.com/alex-user-go/listings/internal/search"
	"github.com/alex-user-go/listings/internal/search/types"
)

func listing(source, id string, score float64) types.NormalizedListing {
	return types.NormalizedListing{Source: source, ExternalID: id, Score: score}
}

func sequence(listings []types.NormalizedListing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.Source + "/" + l.ExternalID
	}
	return out
}

func TestMergeListings_LocalFirstByScore(t *testing.T) {
	local := []types.NormalizedListing{
		listing("local", "L1", 40),
		listing("local", "L2", 90),
		listing("local", "L3", 70),
	}
	groups := []search.ProviderGroup{
		{Source: "provA", Cap: 10, Listings: []types.NormalizedListing{
			listing("provA", "A1", 95),
		}},
	}

	merged := search.MergeListings(local, groups)

	want := []string{"local/L2", "local/L3", "local/L1", "provA/A1"}
	if got := sequence(merged); !reflect.DeepEqual(got, want) {
		t.Errorf("merged order = %v, want %v", got, want)
	}
}

func TestMergeListings_RoundRobinWithCaps(t *testing.T) {
	groups := []search.ProviderGroup{
		{Source: "provA", Cap: 2, Listings: []types.NormalizedListing{
			listing("provA", "A1", 90),
			listing("provA", "A2", 80),
			listing("provA", "A3", 70),
		}},
		{Source: "provB", Cap: 10, Listings: []types.NormalizedListing{
			listing("provB", "B1", 85),
			listing("provB", "B2", 60),
			listing("provB", "B3", 50),
		}},
		{Source: "provC", Cap: 10, Listings: []types.NormalizedListing{
			listing("provC", "C1", 99),
		}},
	}

	merged := search.MergeListings(nil, groups)

	// Round 1 takes one from each group in registration order; provC
	// exhausts and leaves the rotation, provA stops at its cap of 2.
	want := []string{
		"provA/A1", "provB/B1", "provC/C1",
		"provA/A2", "provB/B2",
		"provB/B3",
	}
	if got := sequence(merged); !reflect.DeepEqual(got, want) {
		t.Errorf("merged order = %v, want %v", got, want)
	}

	counts := map[string]int{}
	for _, l := range merged {
		counts[l.Source]++
	}
	if counts["provA"] != 2 {
		t.Errorf("provA contributed %d listings, cap is 2", counts["provA"])
	}
}

func TestMergeListings_Deterministic(t *testing.T) {
	local := []types.NormalizedListing{
		listing("local", "L1", 85),
		listing("local", "L2", 75),
	}
	groups := []search.ProviderGroup{
		{Source: "provA", Cap: 3, Listings: []types.NormalizedListing{
			listing("provA", "A1", 20),
			listing("provA", "A2", 90),
		}},
		{Source: "provB", Cap: 3, Listings: []types.NormalizedListing{
			listing("provB", "B1", 80),
		}},
	}

	first := search.MergeListings(local, groups)
	for i := 0; i < 10; i++ {
		again := search.MergeListings(local, groups)
		if !reflect.DeepEqual(sequence(first), sequence(again)) {
			t.Fatalf("merge not deterministic: run %d gave %v, first run gave %v",
				i, sequence(again), sequence(first))
		}
	}

	// Inputs must not be reordered in place.
	if local[0].ExternalID != "L1" || groups[0].Listings[0].ExternalID != "A1" {
		t.Error("MergeListings mutated its inputs")
	}
}

// Scenario from the merge design: 2 local listings scored [85,75], provider A
// (cap 1, [90]) and provider B (cap 1, [80]).
func TestMergeListings_CappedPairScenario(t *testing.T) {
	local := []types.NormalizedListing{
		listing("local", "L1", 85),
		listing("local", "L2", 75),
	}
	groups := []search.ProviderGroup{
		{Source: "provA", Cap: 1, Listings: []types.NormalizedListing{listing("provA", "A1", 90)}},
		{Source: "provB", Cap: 1, Listings: []types.NormalizedListing{listing("provB", "B1", 80)}},
	}

	merged := search.MergeListings(local, groups)

	want := []string{"local/L1", "local/L2", "provA/A1", "provB/B1"}
	if got := sequence(merged); !reflect.DeepEqual(got, want) {
		t.Errorf("merged order = %v, want %v", got, want)
	}
	if len(merged) != 4 {
		t.Errorf("total count = %d, want 4", len(merged))
	}
}

func TestMergeListings_EmptyInputs(t *testing.T) {
	if got := search.MergeListings(nil, nil); len(got) != 0 {
		t.Errorf("merge of nothing = %v, want empty", got)
	}

	groups := []search.ProviderGroup{
		{Source: "provA", Cap: 5, Listings: nil},
	}
	if got := search.MergeListings(nil, groups); len(got) != 0 {
		t.Errorf("merge of empty group = %v, want empty", got)
	}
}

func TestMergeListings_StableOnEqualScores(t *testing.T) {
	local := []types.NormalizedListing{
		listing("local", "L1", 50),
		listing("local", "L2", 50),
		listing("local", "L3", 50),
	}

	merged := search.MergeListings(local, nil)

	want := []string{"local/L1", "local/L2", "local/L3"}
	if got := sequence(merged); !reflect.DeepEqual(got, want) {
		t.Errorf("equal scores reordered: %v, want %v", got, want)
	}
}
