package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alex-user-go/listings/internal/search/types"
)

func result(total int) *types.CombinedResult {
	return &types.CombinedResult{TotalCount: total, Page: 1, PageSize: 10}
}

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory(16, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k1", result(3), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if got.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", got.TotalCount)
	}
}

func TestMemory_MissOnUnknownKey(t *testing.T) {
	c := NewMemory(16, time.Minute)

	_, ok, err := c.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() hit on unknown key")
	}
}

func TestMemory_EntryTTLExpires(t *testing.T) {
	c := NewMemory(16, time.Minute)
	ctx := context.Background()

	// Per-entry TTL shorter than the LRU ceiling.
	if err := c.Set(ctx, "k1", result(1), 10*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "k1"); ok {
		t.Error("Get() hit after TTL expiry")
	}
}

func TestMemory_ClearPattern(t *testing.T) {
	c := NewMemory(16, time.Minute)
	ctx := context.Background()

	_ = c.Set(ctx, "search:activity:lisbon", result(1), time.Minute)
	_ = c.Set(ctx, "search:activity:porto", result(2), time.Minute)
	_ = c.Set(ctx, "search:restaurant:lisbon", result(3), time.Minute)

	if err := c.Clear(ctx, "search:activity:*"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if _, ok, _ := c.Get(ctx, "search:activity:lisbon"); ok {
		t.Error("cleared key still present")
	}
	if _, ok, _ := c.Get(ctx, "search:activity:porto"); ok {
		t.Error("cleared key still present")
	}
	if _, ok, _ := c.Get(ctx, "search:restaurant:lisbon"); !ok {
		t.Error("unmatched key was cleared")
	}
}

func TestMemory_BoundedSize(t *testing.T) {
	c := NewMemory(2, time.Minute)
	ctx := context.Background()

	_ = c.Set(ctx, "a", result(1), time.Minute)
	_ = c.Set(ctx, "b", result(2), time.Minute)
	_ = c.Set(ctx, "c", result(3), time.Minute)

	hits := 0
	for _, k := range []string{"a", "b", "c"} {
		if _, ok, _ := c.Get(ctx, k); ok {
			hits++
		}
	}
	if hits > 2 {
		t.Errorf("%d entries retained, cache size is 2", hits)
	}
}
