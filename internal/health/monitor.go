// Package health runs the per-provider circuit breaker: a background check
// loop that probes every registered provider, keeps rolling availability
// metrics, disables providers after repeated failures and re-enables them on
// recovery.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alex-user-go/listings/internal/obs"
	"github.com/alex-user-go/listings/internal/providers"
)

// EventType distinguishes breaker transitions.
type EventType string

const (
	// EventDown is emitted when a provider crosses the failure threshold.
	EventDown EventType = "down"
	// EventRecovered is emitted when a down provider returns a healthy probe.
	EventRecovered EventType = "recovered"
)

// Event describes one breaker transition.
type Event struct {
	Type              EventType
	ProviderID        string
	ProviderName      string
	Latency           time.Duration
	ConsecutiveErrors int
}

// Record is the point-in-time health snapshot of one provider.
type Record struct {
	ProviderID        string          `json:"provider_id"`
	ProviderName      string          `json:"provider_name"`
	Healthy           bool            `json:"healthy"`
	Enabled           bool            `json:"enabled"`
	Down              bool            `json:"down"`
	LastLatency       time.Duration   `json:"last_latency_ms"`
	LastChecked       time.Time       `json:"last_checked"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
	ErrorRate         float64         `json:"error_rate"`
	AvgLatency        time.Duration   `json:"avg_latency_ms"`
	UptimePercent     float64         `json:"uptime_percent"`
	Quota             providers.Quota `json:"quota"`

	checksTotal   int64
	checksHealthy int64
}

const (
	// emaDecay weights rolling averages toward recent samples (90/10).
	emaDecay = 0.9

	defaultFailureThreshold = 3
	defaultInterval         = time.Minute
	defaultProbeTimeout     = 10 * time.Second
)

// Monitor drives one check loop per provider. Each provider's record is
// written only by its own loop (single-writer), so readers get a consistent
// snapshot that is at worst one interval stale.
type Monitor struct {
	registry         *providers.Registry
	interval         time.Duration
	probeTimeout     time.Duration
	failureThreshold int
	metrics          *obs.Metrics
	logger           *slog.Logger

	mu      sync.RWMutex
	records map[string]*Record
	subs    []func(Event)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option tweaks monitor construction.
type Option func(*Monitor)

// WithInterval overrides the check interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.probeTimeout = d }
}

// WithFailureThreshold overrides the consecutive-error trip threshold.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) { m.failureThreshold = n }
}

// NewMonitor creates a Monitor over the registry.
func NewMonitor(registry *providers.Registry, metrics *obs.Metrics, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		registry:         registry,
		interval:         defaultInterval,
		probeTimeout:     defaultProbeTimeout,
		failureThreshold: defaultFailureThreshold,
		metrics:          metrics,
		logger:           logger,
		records:          make(map[string]*Record),
		stop:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, d := range registry.All() {
		m.records[d.ID] = &Record{
			ProviderID:   d.ID,
			ProviderName: d.Name,
			Healthy:      true,
			Enabled:      d.Enabled(),
		}
		metrics.ProviderUp.WithLabelValues(d.ID).Set(1)
	}
	return m
}

// Subscribe registers a callback for breaker events. Must be called before
// Start; callbacks run synchronously on the check goroutine.
func (m *Monitor) Subscribe(fn func(Event)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Start launches one check loop per provider. Loops run until Stop.
func (m *Monitor) Start() {
	for _, d := range m.registry.All() {
		m.wg.Go(func() {
			ticker := time.NewTicker(m.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.CheckProvider(context.Background(), d.ID)
				case <-m.stop:
					return
				}
			}
		})
	}
}

// Stop terminates all check loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// CheckProvider runs one health check for the given provider immediately.
// This is both the loop body and the operator's force-check escape hatch.
func (m *Monitor) CheckProvider(ctx context.Context, id string) {
	desc, ok := m.registry.Get(id)
	if !ok {
		m.logger.Warn("health check for unknown provider", "provider", id)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	// Health and quota probes run concurrently; latency is the health
	// probe's wall-clock time.
	var (
		wg       sync.WaitGroup
		healthy  bool
		probeErr error
		quota    providers.Quota
		latency  time.Duration
	)
	wg.Go(func() {
		start := time.Now()
		healthy, probeErr = desc.Provider().IsHealthy(probeCtx)
		latency = time.Since(start)
	})
	wg.Go(func() {
		q, err := desc.Provider().Quota(probeCtx)
		if err == nil {
			quota = q
		}
	})
	wg.Wait()

	if probeErr != nil || !healthy {
		m.recordFailure(desc, latency, quota)
		return
	}
	m.recordSuccess(desc, latency, quota)
}

// CheckAll runs one check for every provider, sequentially. Test and startup
// helper.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, d := range m.registry.All() {
		m.CheckProvider(ctx, d.ID)
	}
}

func (m *Monitor) recordSuccess(desc *providers.Descriptor, latency time.Duration, quota providers.Quota) {
	var recovered Event
	emit := false

	m.mu.Lock()
	rec := m.records[desc.ID]
	next := *rec
	next.Healthy = true
	next.ConsecutiveErrors = 0
	next.LastLatency = latency
	next.LastChecked = time.Now()
	next.Quota = quota
	next.ErrorRate = rec.ErrorRate * emaDecay
	next.AvgLatency = rollLatency(rec.AvgLatency, latency)
	next.checksTotal = rec.checksTotal + 1
	next.checksHealthy = rec.checksHealthy + 1
	next.UptimePercent = uptime(next.checksHealthy, next.checksTotal)

	if rec.Down {
		next.Down = false
		recovered = Event{
			Type:         EventRecovered,
			ProviderID:   desc.ID,
			ProviderName: desc.Name,
			Latency:      latency,
		}
		emit = true
	}
	next.Enabled = true
	m.records[desc.ID] = &next
	subs := m.subs
	m.mu.Unlock()

	if emit {
		desc.SetEnabled(true)
		m.metrics.ProviderUp.WithLabelValues(desc.ID).Set(1)
		m.logger.Info("provider recovered", "provider", desc.ID, "latency_ms", latency.Milliseconds())
		for _, fn := range subs {
			fn(recovered)
		}
	}
}

func (m *Monitor) recordFailure(desc *providers.Descriptor, latency time.Duration, quota providers.Quota) {
	var down Event
	emit := false

	m.mu.Lock()
	rec := m.records[desc.ID]
	next := *rec
	next.Healthy = false
	next.ConsecutiveErrors = rec.ConsecutiveErrors + 1
	next.LastLatency = latency
	next.LastChecked = time.Now()
	if quota.Limit > 0 {
		next.Quota = quota
	}
	next.ErrorRate = rec.ErrorRate*emaDecay + (1 - emaDecay)
	next.AvgLatency = rollLatency(rec.AvgLatency, latency)
	next.checksTotal = rec.checksTotal + 1
	next.UptimePercent = uptime(next.checksHealthy, next.checksTotal)

	// Trip only on the threshold crossing; repeated failures while already
	// down stay silent.
	if next.ConsecutiveErrors >= m.failureThreshold && !rec.Down {
		next.Down = true
		next.Enabled = false
		down = Event{
			Type:              EventDown,
			ProviderID:        desc.ID,
			ProviderName:      desc.Name,
			Latency:           latency,
			ConsecutiveErrors: next.ConsecutiveErrors,
		}
		emit = true
	}
	m.records[desc.ID] = &next
	subs := m.subs
	m.mu.Unlock()

	if emit {
		desc.SetEnabled(false)
		m.metrics.ProviderUp.WithLabelValues(desc.ID).Set(0)
		m.logger.Error("provider marked down",
			"provider", desc.ID,
			"consecutive_errors", down.ConsecutiveErrors)
		for _, fn := range subs {
			fn(down)
		}
	}
}

// ForceEnable clears a provider's down state and re-enables it regardless of
// recent history. Operator escape hatch only.
func (m *Monitor) ForceEnable(id string) bool {
	desc, ok := m.registry.Get(id)
	if !ok {
		return false
	}

	m.mu.Lock()
	rec := m.records[id]
	next := *rec
	next.Down = false
	next.Enabled = true
	next.ConsecutiveErrors = 0
	m.records[id] = &next
	m.mu.Unlock()

	desc.SetEnabled(true)
	m.metrics.ProviderUp.WithLabelValues(id).Set(1)
	m.logger.Info("provider force-enabled", "provider", id)
	return true
}

// ProviderHealth returns the latest record for one provider.
func (m *Monitor) ProviderHealth(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// AllProviderHealth returns a snapshot of every provider's record, keyed by
// provider ID.
func (m *Monitor) AllProviderHealth() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.records))
	for id, rec := range m.records {
		out[id] = *rec
	}
	return out
}

func rollLatency(avg, sample time.Duration) time.Duration {
	if avg == 0 {
		return sample
	}
	return time.Duration(float64(avg)*emaDecay + float64(sample)*(1-emaDecay))
}

func uptime(healthy, total int64) float64 {
	if total == 0 {
		return 100
	}
	return float64(healthy) / float64(total) * 100
}
