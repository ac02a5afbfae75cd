package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alex-user-go/listings/internal/alerting"
	"github.com/alex-user-go/listings/internal/health"
	"github.com/alex-user-go/listings/internal/middleware"
	"github.com/alex-user-go/listings/internal/search"
	"github.com/alex-user-go/listings/internal/search/ratelimit"
	"github.com/alex-user-go/listings/internal/search/types"
)

// Handler exposes the search endpoint and the operator surface over HTTP.
type Handler struct {
	aggregator  *search.Aggregator
	monitor     *health.Monitor
	alerts      *alerting.Manager
	rateLimiter *ratelimit.Limiter
	logger      *slog.Logger
}

// New creates a new Handler.
func New(
	aggregator *search.Aggregator,
	monitor *health.Monitor,
	alerts *alerting.Manager,
	rateLimiter *ratelimit.Limiter,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		aggregator:  aggregator,
		monitor:     monitor,
		alerts:      alerts,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /search", h.SearchHandler)
	mux.HandleFunc("GET /providers/health", h.ProviderHealthHandler)
	mux.HandleFunc("POST /providers/{id}/check", h.ForceCheckHandler)
	mux.HandleFunc("POST /providers/{id}/enable", h.ForceEnableHandler)
	mux.HandleFunc("GET /alerts", h.AlertsHandler)
	mux.HandleFunc("POST /alerts/{id}/ack", h.AckAlertHandler)
	mux.HandleFunc("GET /rules", h.RulesHandler)
	mux.HandleFunc("PATCH /rules/{id}", h.UpdateRuleHandler)
}

// SearchHandler serves GET /search.
func (h *Handler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestID(r.Context())

	ip := ExtractIP(r)
	if !h.rateLimiter.Allow(ip) {
		if retry := h.rateLimiter.RetryAfter(ip); retry > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
		}
		h.logger.Warn("rate limit exceeded", "request_id", requestID, "ip", ip)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	req, err := ParseSearchRequest(r)
	if err != nil {
		h.logger.Debug("invalid request parameters", "request_id", requestID, "error", err, "ip", ip)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.aggregator.SearchCombined(r.Context(), req)
	if err != nil {
		h.logger.Error("search failed",
			"request_id", requestID,
			"error", err,
			"service_type", req.ServiceType,
			"city", req.Location.City,
		)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ProviderHealthHandler serves GET /providers/health.
func (h *Handler) ProviderHealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.AllProviderHealth())
}

// ForceCheckHandler serves POST /providers/{id}/check: runs an immediate
// health check and returns the refreshed record.
func (h *Handler) ForceCheckHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.monitor.ProviderHealth(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", id))
		return
	}

	h.monitor.CheckProvider(r.Context(), id)
	rec, _ := h.monitor.ProviderHealth(id)
	writeJSON(w, http.StatusOK, rec)
}

// ForceEnableHandler serves POST /providers/{id}/enable: the operator escape
// hatch that clears a provider's down state.
func (h *Handler) ForceEnableHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.monitor.ForceEnable(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", id))
		return
	}

	rec, _ := h.monitor.ProviderHealth(id)
	writeJSON(w, http.StatusOK, rec)
}

// AlertsHandler serves GET /alerts. ?history=true returns retained history,
// optionally bounded by ?limit=.
func (h *Handler) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("history") == "true" {
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		writeJSON(w, http.StatusOK, h.alerts.History(limit))
		return
	}
	writeJSON(w, http.StatusOK, h.alerts.ActiveAlerts())
}

// AckAlertHandler serves POST /alerts/{id}/ack.
func (h *Handler) AckAlertHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.alerts.Acknowledge(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no active alert %q", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RulesHandler serves GET /rules.
func (h *Handler) RulesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.alerts.Rules())
}

// UpdateRuleHandler serves PATCH /rules/{id}.
func (h *Handler) UpdateRuleHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var update alerting.RuleUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule update body")
		return
	}

	if err := h.alerts.UpdateRule(id, update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ParseSearchRequest parses and validates search parameters from the request.
// Filters arrive as filter.<name> query parameters.
func ParseSearchRequest(r *http.Request) (*types.SearchRequest, error) {
	query := r.URL.Query()

	serviceType := strings.TrimSpace(query.Get("service_type"))
	if serviceType == "" {
		return nil, fmt.Errorf("service_type is required")
	}

	city := strings.TrimSpace(query.Get("city"))
	lat, latErr := parseOptionalFloat(query.Get("lat"))
	lng, lngErr := parseOptionalFloat(query.Get("lng"))
	radius, radErr := parseOptionalFloat(query.Get("radius_km"))
	if latErr != nil || lngErr != nil || radErr != nil {
		return nil, fmt.Errorf("lat, lng and radius_km must be numbers")
	}
	if city == "" && radius <= 0 {
		return nil, fmt.Errorf("either city or lat/lng with radius_km is required")
	}

	checkIn := strings.TrimSpace(query.Get("check_in"))
	checkOut := strings.TrimSpace(query.Get("check_out"))
	for _, d := range []string{checkIn, checkOut} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, fmt.Errorf("dates must be in YYYY-MM-DD format")
		}
	}

	page := 1
	if s := query.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("page must be a positive integer")
		}
		page = n
	}

	pageSize := 0
	if s := query.Get("page_size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("page_size must be a positive integer")
		}
		pageSize = n
	}

	filters := make(map[string]string)
	for key, values := range query {
		if name, ok := strings.CutPrefix(key, "filter."); ok && len(values) > 0 {
			filters[name] = values[0]
		}
	}
	if len(filters) == 0 {
		filters = nil
	}

	return &types.SearchRequest{
		ServiceType: serviceType,
		Location: types.Location{
			City:     city,
			Country:  strings.TrimSpace(query.Get("country")),
			Lat:      lat,
			Lng:      lng,
			RadiusKm: radius,
		},
		CheckIn:   checkIn,
		CheckOut:  checkOut,
		Filters:   filters,
		SortBy:    strings.TrimSpace(query.Get("sort_by")),
		SortOrder: strings.TrimSpace(query.Get("sort_order")),
		Page:      page,
		PageSize:  pageSize,
	}, nil
}

func parseOptionalFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// ExtractIP extracts the client IP from the request.
// Checks X-Forwarded-For, X-Real-IP, then falls back to RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
