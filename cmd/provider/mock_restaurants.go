package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"
)

// restaurantsMock serves restaurant listings with low latency and no quota
// concept (the /quota endpoint reports a zero limit).
type restaurantsMock struct {
	rng    *rand.Rand
	logger *slog.Logger
}

func newRestaurantsMock() *restaurantsMock {
	return &restaurantsMock{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

func (p *restaurantsMock) searchHandler(w http.ResponseWriter, r *http.Request) {
	latency := time.Duration(20+p.rng.Intn(60)) * time.Millisecond
	select {
	case <-time.After(latency):
	case <-r.Context().Done():
		return
	}

	city := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("city")))
	listings := []listing{
		{
			ExternalID:  "RST-101",
			ServiceType: "restaurant",
			Title:       "La Terrazza",
			City:        city,
			Score:       92,
			Price:       60,
			Currency:    "EUR",
			Rating:      4.8,
			Metadata:    map[string]string{"cuisine": "italian", "seats": "40"},
		},
		{
			ExternalID:  "RST-102",
			ServiceType: "restaurant",
			Title:       "Harbor Grill",
			City:        city,
			Score:       84,
			Price:       45,
			Currency:    "EUR",
			Rating:      4.4,
			Metadata:    map[string]string{"cuisine": "seafood"},
		},
		{
			ExternalID:  "RST-103",
			ServiceType: "restaurant",
			Title:       "Green Bowl",
			City:        city,
			Score:       70,
			Price:       22,
			Currency:    "eur", // Inconsistent casing
			Rating:      4.0,
		},
		{
			ExternalID:  "RST-104",
			ServiceType: "restaurant",
			Title:       "Night Noodles",
			City:        city,
			Score:       66,
			Price:       18,
			Currency:    "EUR",
			Rating:      3.9,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(listings); err != nil {
		p.logger.Error("failed to encode response", "error", err)
	}
}

func (p *restaurantsMock) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (p *restaurantsMock) quotaHandler(w http.ResponseWriter, r *http.Request) {
	// No quota concept for this provider.
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(quota{}); err != nil {
		p.logger.Error("failed to encode quota", "error", err)
	}
}
