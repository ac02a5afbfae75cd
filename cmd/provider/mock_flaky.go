package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// flakyMock exercises the circuit breaker: it alternates between healthy and
// unhealthy phases every few minutes, fails a third of searches while
// healthy, and times out instead of answering while unhealthy.
type flakyMock struct {
	rng      *rand.Rand
	logger   *slog.Logger
	requests atomic.Int64
	started  time.Time
}

func newFlakyMock() *flakyMock {
	return &flakyMock{
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  slog.New(slog.NewTextHandler(os.Stdout, nil)),
		started: time.Now(),
	}
}

// unhealthyPhase reports whether the mock is currently in its down window.
// Phases flip every 5 minutes.
func (p *flakyMock) unhealthyPhase() bool {
	return int(time.Since(p.started)/(5*time.Minute))%2 == 1
}

func (p *flakyMock) searchHandler(w http.ResponseWriter, r *http.Request) {
	p.requests.Add(1)

	if p.unhealthyPhase() {
		// Hang until the caller's timeout fires.
		<-r.Context().Done()
		return
	}

	latency := time.Duration(100+p.rng.Intn(400)) * time.Millisecond
	select {
	case <-time.After(latency):
	case <-r.Context().Done():
		return
	}

	if p.rng.Float64() < 0.33 {
		http.Error(w, errProviderUnavailable.Error(), http.StatusBadGateway)
		return
	}

	city := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("city")))
	listings := []listing{
		{
			ExternalID:  "FLK-001",
			ServiceType: "activity",
			Title:       "Sunset Boat Cruise",
			City:        city,
			Score:       79,
			Price:       55,
			Currency:    "EUR",
			Rating:      4.3,
		},
		{
			ExternalID:  "FLK-002",
			ServiceType: "activity",
			Title:       "City Bike Rental",
			City:        city,
			Score:       0, // no score from this provider
			Price:       15,
			Currency:    "EUR",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(listings); err != nil {
		p.logger.Error("failed to encode response", "error", err)
	}
}

func (p *flakyMock) healthHandler(w http.ResponseWriter, r *http.Request) {
	if p.unhealthyPhase() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (p *flakyMock) quotaHandler(w http.ResponseWriter, r *http.Request) {
	q := quota{
		Used:    p.requests.Load(),
		Limit:   100,
		ResetAt: time.Now().Add(time.Hour).Truncate(time.Hour),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(q); err != nil {
		p.logger.Error("failed to encode quota", "error", err)
	}
}
