package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alex-user-go/listings/internal/search/types"
)

// HTTPProvider talks to a provider's JSON API: GET /search for listings,
// GET /healthz for availability, GET /quota for usage.
type HTTPProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider creates a new HTTPProvider.
func NewHTTPProvider(name, baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Search queries the provider's /search endpoint.
func (p *HTTPProvider) Search(ctx context.Context, req *types.SearchRequest) ([]types.NormalizedListing, error) {
	u, err := url.Parse(p.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("service_type", req.ServiceType)
	q.Set("city", req.Location.City)
	if req.Location.Country != "" {
		q.Set("country", req.Location.Country)
	}
	if req.Location.RadiusKm > 0 {
		q.Set("lat", strconv.FormatFloat(req.Location.Lat, 'f', -1, 64))
		q.Set("lng", strconv.FormatFloat(req.Location.Lng, 'f', -1, 64))
		q.Set("radius_km", strconv.FormatFloat(req.Location.RadiusKm, 'f', -1, 64))
	}
	if req.CheckIn != "" {
		q.Set("check_in", req.CheckIn)
	}
	if req.CheckOut != "" {
		q.Set("check_out", req.CheckOut)
	}
	for k, v := range req.Filters {
		q.Set("filter."+k, v)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Explicitly ignore close error
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var listings []types.NormalizedListing
	if err := json.NewDecoder(resp.Body).Decode(&listings); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Stamp the source so downstream merging can attribute listings even if
	// the provider omits it.
	for i := range listings {
		listings[i].Source = p.name
	}

	return listings, nil
}

// IsHealthy probes the provider's /healthz endpoint.
func (p *HTTPProvider) IsHealthy(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/healthz", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health probe failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK, nil
}

// Quota fetches the provider's /quota endpoint. Providers without a quota
// endpoint report no quota.
func (p *HTTPProvider) Quota(ctx context.Context) (Quota, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/quota", nil)
	if err != nil {
		return Quota{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Quota{}, fmt.Errorf("quota probe failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return Quota{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Quota{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var q Quota
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return Quota{}, fmt.Errorf("failed to parse quota response: %w", err)
	}

	return q, nil
}
