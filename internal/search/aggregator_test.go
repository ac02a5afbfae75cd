package search_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alex-user-go/listings/internal/obs"
	"github.com/alex-user-go/listings/internal/providers"
	"github.com/alex-user-go/listings/internal/search"
	"github.com/alex-user-go/listings/internal/search/types"
	"github.com/alex-user-go/listings/internal/store"
)

// mockProvider is a test provider with predefined results.
type mockProvider struct {
	listings []types.NormalizedListing
	err      error
	delay    time.Duration
	calls    atomic.Int64
}

func (m *mockProvider) Search(ctx context.Context, req *types.SearchRequest) ([]types.NormalizedListing, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
	return m.listings, m.err
}

func (m *mockProvider) IsHealthy(ctx context.Context) (bool, error) {
	return true, nil
}

func (m *mockProvider) Quota(ctx context.Context) (providers.Quota, error) {
	return providers.Quota{}, nil
}

// mockStore is a test local store.
type mockStore struct {
	rows []types.NormalizedListing
	err  error

	mu    sync.Mutex
	saved int
}

func (s *mockStore) FindListings(ctx context.Context, req *types.SearchRequest) ([]store.Listing, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]store.Listing, len(s.rows))
	for i := range s.rows {
		out[i] = &mockRow{store: s, row: s.rows[i]}
	}
	return out, nil
}

type mockRow struct {
	store *mockStore
	row   types.NormalizedListing
}

func (r *mockRow) Normalized() types.NormalizedListing { return r.row }
func (r *mockRow) SetScore(score float64)              { r.row.Score = score }

func (r *mockRow) Save(ctx context.Context) error {
	r.store.mu.Lock()
	r.store.saved++
	r.store.mu.Unlock()
	return nil
}

// mockCache is a map-backed cache with switchable failures.
type mockCache struct {
	mu      sync.Mutex
	entries map[string]*types.CombinedResult
	failGet bool
	failSet bool
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*types.CombinedResult)}
}

func (c *mockCache) Get(ctx context.Context, key string) (*types.CombinedResult, bool, error) {
	if c.failGet {
		return nil, false, errors.New("cache backend down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok, nil
}

func (c *mockCache) Set(ctx context.Context, key string, result *types.CombinedResult, ttl time.Duration) error {
	if c.failSet {
		return errors.New("cache backend down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
	return nil
}

func (c *mockCache) Clear(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*types.CombinedResult)
	return nil
}

func testRegistry(t *testing.T, descs ...*providers.Descriptor) *providers.Registry {
	t.Helper()
	reg, err := providers.NewRegistry(descs...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func testAggregator(t *testing.T, st store.Store, reg *providers.Registry, c *mockCache) *search.Aggregator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return search.NewAggregator(st, reg, c, time.Minute, 200*time.Millisecond, obs.NewMetrics(), logger)
}

func testRequest() *types.SearchRequest {
	return &types.SearchRequest{
		ServiceType: "activity",
		Location:    types.Location{City: "lisbon"},
		Page:        1,
		PageSize:    10,
	}
}

func TestSearchCombined_MergesLocalAndProviders(t *testing.T) {
	st := &mockStore{rows: []types.NormalizedListing{
		{Source: "local", ExternalID: "L1", Rating: 4.5, Price: 30},
		{Source: "local", ExternalID: "L2", Rating: 4.0, Price: 20},
	}}
	provA := &mockProvider{listings: []types.NormalizedListing{
		{ExternalID: "A1", Score: 90},
	}}
	provB := &mockProvider{listings: []types.NormalizedListing{
		{ExternalID: "B1", Score: 80},
	}}
	reg := testRegistry(t,
		providers.NewDescriptor("provA", "Provider A", "activity", 1, provA),
		providers.NewDescriptor("provB", "Provider B", "activity", 1, provB),
	)

	agg := testAggregator(t, st, reg, newMockCache())
	result, err := agg.SearchCombined(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("SearchCombined() error = %v", err)
	}

	if result.TotalCount != 4 {
		t.Errorf("TotalCount = %d, want 4", result.TotalCount)
	}
	if result.HasMore {
		t.Error("HasMore = true, want false")
	}

	got := sequence(result.Items)
	want := []string{"local/L1", "local/L2", "provA/A1", "provB/B1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("items = %v, want %v", got, want)
	}

	if result.SourceCounts["local"] != 2 || result.SourceCounts["provA"] != 1 || result.SourceCounts["provB"] != 1 {
		t.Errorf("SourceCounts = %v", result.SourceCounts)
	}

	// Local scores were recomputed; the higher-rated row sorts first.
	if result.Items[0].Score <= result.Items[1].Score {
		t.Errorf("local ordering by score broken: %f then %f",
			result.Items[0].Score, result.Items[1].Score)
	}
}

func TestSearchCombined_ProviderFailureIsIsolated(t *testing.T) {
	st := &mockStore{rows: []types.NormalizedListing{
		{Source: "local", ExternalID: "L1", Rating: 4.0},
	}}
	failing := &mockProvider{err: providers.ErrProviderUnavailable}
	healthy := &mockProvider{listings: []types.NormalizedListing{
		{ExternalID: "B1", Score: 70},
	}}
	reg := testRegistry(t,
		providers.NewDescriptor("provA", "Provider A", "activity", 5, failing),
		providers.NewDescriptor("provB", "Provider B", "activity", 5, healthy),
	)

	agg := testAggregator(t, st, reg, newMockCache())
	result, err := agg.SearchCombined(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("SearchCombined() error = %v", err)
	}

	got := sequence(result.Items)
	want := []string{"local/L1", "provB/B1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("items = %v, want %v", got, want)
	}
}

func TestSearchCombined_SlowProviderTimesOut(t *testing.T) {
	slow := &mockProvider{
		delay:    time.Second,
		listings: []types.NormalizedListing{{ExternalID: "S1", Score: 99}},
	}
	fast := &mockProvider{listings: []types.NormalizedListing{
		{ExternalID: "F1", Score: 50},
	}}
	reg := testRegistry(t,
		providers.NewDescriptor("slow", "Slow", "activity", 5, slow),
		providers.NewDescriptor("fast", "Fast", "activity", 5, fast),
	)

	agg := testAggregator(t, &mockStore{}, reg, newMockCache())

	start := time.Now()
	result, err := agg.SearchCombined(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("SearchCombined() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 600*time.Millisecond {
		t.Errorf("search took %v, slow provider was not bounded by its timeout", elapsed)
	}

	got := sequence(result.Items)
	if !reflect.DeepEqual(got, []string{"fast/F1"}) {
		t.Errorf("items = %v, want only the fast provider's listing", got)
	}
}

func TestSearchCombined_LocalStoreFailureDegrades(t *testing.T) {
	st := &mockStore{err: errors.New("db connection refused")}
	prov := &mockProvider{listings: []types.NormalizedListing{
		{ExternalID: "A1", Score: 90},
	}}
	reg := testRegistry(t, providers.NewDescriptor("provA", "Provider A", "activity", 5, prov))

	agg := testAggregator(t, st, reg, newMockCache())
	result, err := agg.SearchCombined(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("SearchCombined() error = %v, want degraded result", err)
	}
	if result.TotalCount != 1 {
		t.Errorf("TotalCount = %d, want 1 (provider only)", result.TotalCount)
	}
}

func TestSearchCombined_DisabledProviderIsSkipped(t *testing.T) {
	disabled := &mockProvider{listings: []types.NormalizedListing{
		{ExternalID: "D1", Score: 99},
	}}
	desc := providers.NewDescriptor("provD", "Provider D", "activity", 5, disabled)
	desc.SetEnabled(false)
	reg := testRegistry(t, desc)

	agg := testAggregator(t, &mockStore{}, reg, newMockCache())
	result, err := agg.SearchCombined(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("SearchCombined() error = %v", err)
	}

	if result.TotalCount != 0 {
		t.Errorf("TotalCount = %d, want 0", result.TotalCount)
	}
	if n := disabled.calls.Load(); n != 0 {
		t.Errorf("disabled provider was called %d times", n)
	}
}

func TestSearchCombined_CacheHitSkipsProviders(t *testing.T) {
	prov := &mockProvider{listings: []types.NormalizedListing{
		{ExternalID: "A1", Score: 90},
	}}
	reg := testRegistry(t, providers.NewDescriptor("provA", "Provider A", "activity", 5, prov))
	c := newMockCache()

	agg := testAggregator(t, &mockStore{}, reg, c)

	first, err := agg.SearchCombined(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("first SearchCombined() error = %v", err)
	}
	second, err := agg.SearchCombined(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("second SearchCombined() error = %v", err)
	}

	if n := prov.calls.Load(); n != 1 {
		t.Errorf("provider called %d times, want 1 (second call served from cache)", n)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached result differs from original")
	}
}

func TestSearchCombined_CacheFailuresAreBestEffort(t *testing.T) {
	prov := &mockProvider{listings: []types.NormalizedListing{
		{ExternalID: "A1", Score: 90},
	}}
	reg := testRegistry(t, providers.NewDescriptor("provA", "Provider A", "activity", 5, prov))
	c := newMockCache()
	c.failGet = true
	c.failSet = true

	agg := testAggregator(t, &mockStore{}, reg, c)
	result, err := agg.SearchCombined(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("SearchCombined() error = %v, cache failure must not fail the request", err)
	}
	if result.TotalCount != 1 {
		t.Errorf("TotalCount = %d, want 1", result.TotalCount)
	}
}

func TestSearchCombined_Pagination(t *testing.T) {
	rows := make([]types.NormalizedListing, 5)
	for i := range rows {
		rows[i] = types.NormalizedListing{
			Source:     "local",
			ExternalID: string(rune('A' + i)),
			Rating:     float64(5 - i),
		}
	}
	reg := testRegistry(t)
	agg := testAggregator(t, &mockStore{rows: rows}, reg, newMockCache())

	req := testRequest()
	req.PageSize = 2

	page1, err := agg.SearchCombined(context.Background(), req)
	if err != nil {
		t.Fatalf("SearchCombined() error = %v", err)
	}
	if len(page1.Items) != 2 || !page1.HasMore {
		t.Errorf("page 1: items=%d hasMore=%v, want 2 items and hasMore", len(page1.Items), page1.HasMore)
	}

	req3 := testRequest()
	req3.PageSize = 2
	req3.Page = 3
	page3, err := agg.SearchCombined(context.Background(), req3)
	if err != nil {
		t.Fatalf("SearchCombined() error = %v", err)
	}
	if len(page3.Items) != 1 || page3.HasMore {
		t.Errorf("page 3: items=%d hasMore=%v, want 1 item and no more", len(page3.Items), page3.HasMore)
	}
	if page3.TotalCount != 5 {
		t.Errorf("TotalCount = %d, want 5", page3.TotalCount)
	}
}
