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

// activitiesMock serves activity listings with 50-200ms latency and a 5%
// failure rate. It tracks quota usage against a daily limit.
type activitiesMock struct {
	rng      *rand.Rand
	logger   *slog.Logger
	requests atomic.Int64
	dailyCap int64
	quotaDay time.Time
}

func newActivitiesMock() *activitiesMock {
	return &activitiesMock{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   slog.New(slog.NewTextHandler(os.Stdout, nil)),
		dailyCap: 1000,
		quotaDay: time.Now().Truncate(24 * time.Hour),
	}
}

func (p *activitiesMock) searchHandler(w http.ResponseWriter, r *http.Request) {
	p.requests.Add(1)

	latency := time.Duration(50+p.rng.Intn(150)) * time.Millisecond
	select {
	case <-time.After(latency):
	case <-r.Context().Done():
		return
	}

	if p.rng.Float64() < 0.05 {
		http.Error(w, errProviderUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}

	city := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("city")))
	listings := []listing{
		{
			ExternalID:  "ACT-001",
			ServiceType: "activity",
			Title:       "Old Town Walking Tour",
			City:        city,
			Score:       88,
			Price:       25,
			Currency:    "EUR",
			Rating:      4.7,
			Metadata:    map[string]string{"duration": "2h", "group_size": "15"},
		},
		{
			ExternalID:  "ACT-002",
			ServiceType: "activity",
			Title:       "River Kayak Adventure",
			City:        city,
			Score:       81,
			Price:       49,
			Currency:    "EUR",
			Rating:      4.5,
			Metadata:    map[string]string{"duration": "3h"},
		},
		{
			ExternalID:  "ACT-003",
			ServiceType: "activity",
			Title:       "Food Market Tasting",
			City:        city,
			Score:       74,
			Price:       35,
			Currency:    "EUR",
			Rating:      4.2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(listings); err != nil {
		p.logger.Error("failed to encode response", "error", err)
	}
}

func (p *activitiesMock) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (p *activitiesMock) quotaHandler(w http.ResponseWriter, r *http.Request) {
	q := quota{
		Used:    p.requests.Load(),
		Limit:   p.dailyCap,
		ResetAt: p.quotaDay.Add(24 * time.Hour),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(q); err != nil {
		p.logger.Error("failed to encode quota", "error", err)
	}
}
