// Mock listing providers for local development. Each flavor serves the
// provider API the core consumes: GET /search, GET /healthz, GET /quota.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// listing mirrors the normalized listing shape providers return.
type listing struct {
	Source      string            `json:"source,omitempty"`
	ExternalID  string            `json:"external_id"`
	ServiceType string            `json:"service_type"`
	Title       string            `json:"title"`
	City        string            `json:"city,omitempty"`
	Score       float64           `json:"score"`
	Price       float64           `json:"price,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Rating      float64           `json:"rating,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// quota mirrors the provider quota snapshot.
type quota struct {
	Used    int64     `json:"used"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

var errProviderUnavailable = errors.New("provider unavailable")

func main() {
	port := getEnv("PORT", "9001")
	providerType := getEnv("PROVIDER_TYPE", "activities")

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var p mockProvider
	switch providerType {
	case "activities":
		p = newActivitiesMock()
	case "restaurants":
		p = newRestaurantsMock()
	case "flaky":
		p = newFlakyMock()
	default:
		logger.Error("unknown provider type", "type", providerType)
		os.Exit(1)
	}
	logger.Info("starting provider", "type", providerType, "port", port)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", p.searchHandler)
	mux.HandleFunc("GET /healthz", p.healthHandler)
	mux.HandleFunc("GET /quota", p.quotaHandler)

	addr := ":" + port
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// mockProvider is the handler trio each flavor implements.
type mockProvider interface {
	searchHandler(w http.ResponseWriter, r *http.Request)
	healthHandler(w http.ResponseWriter, r *http.Request)
	quotaHandler(w http.ResponseWriter, r *http.Request)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
