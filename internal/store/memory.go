package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/alex-user-go/listings/internal/search/types"
)

// MemoryStore is an in-memory Store used by the binary and tests. Rows can be
// seeded from a JSON file of normalized listings.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []types.NormalizedListing
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadSeed reads a JSON array of listings into the store.
func (s *MemoryStore) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var rows []types.NormalizedListing
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i := range rows {
		rows[i].Source = types.SourceLocal
	}

	s.mu.Lock()
	s.rows = append(s.rows, rows...)
	s.mu.Unlock()
	return nil
}

// Add inserts listings directly. Test and seed helper.
func (s *MemoryStore) Add(rows ...types.NormalizedListing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Source = types.SourceLocal
		s.rows = append(s.rows, r)
	}
}

// FindListings filters stored rows by service type and city.
func (s *MemoryStore) FindListings(ctx context.Context, req *types.SearchRequest) ([]Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Listing
	for i := range s.rows {
		r := &s.rows[i]
		if req.ServiceType != "" && r.ServiceType != req.ServiceType {
			continue
		}
		if city := req.Location.City; city != "" && !strings.EqualFold(r.City, city) {
			continue
		}
		out = append(out, &memoryListing{store: s, index: i, row: *r})
	}
	return out, nil
}

// memoryListing is a detached copy of a row; Save writes the copy back under
// the store lock.
type memoryListing struct {
	store *MemoryStore
	index int
	row   types.NormalizedListing
}

func (l *memoryListing) Normalized() types.NormalizedListing {
	return l.row
}

func (l *memoryListing) SetScore(score float64) {
	l.row.Score = score
}

func (l *memoryListing) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.index < len(l.store.rows) {
		l.store.rows[l.index] = l.row
	}
	return nil
}
