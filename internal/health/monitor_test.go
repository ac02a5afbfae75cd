package health_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex-user-go/listings/internal/health"
	"github.com/alex-user-go/listings/internal/obs"
	"github.com/alex-user-go/listings/internal/providers"
	"github.com/alex-user-go/listings/internal/search/types"
)

// probeProvider is a provider whose probe outcome is settable per test.
type probeProvider struct {
	mu       sync.Mutex
	healthy  bool
	probeErr error
	quota    providers.Quota
	delay    time.Duration
}

func (p *probeProvider) set(healthy bool, err error) {
	p.mu.Lock()
	p.healthy = healthy
	p.probeErr = err
	p.mu.Unlock()
}

func (p *probeProvider) Search(ctx context.Context, req *types.SearchRequest) ([]types.NormalizedListing, error) {
	return nil, nil
}

func (p *probeProvider) IsHealthy(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.healthy, p.probeErr
}

func (p *probeProvider) Quota(ctx context.Context) (providers.Quota, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quota, nil
}

func newTestMonitor(t *testing.T, p providers.Provider) (*health.Monitor, *providers.Descriptor) {
	t.Helper()
	desc := providers.NewDescriptor("provX", "Provider X", "activity", 5, p)
	reg, err := providers.NewRegistry(desc)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := health.NewMonitor(reg, obs.NewMetrics(), logger,
		health.WithFailureThreshold(3),
		health.WithProbeTimeout(time.Second),
	)
	return m, desc
}

func TestMonitor_TripsAtThresholdExactlyOnce(t *testing.T) {
	p := &probeProvider{healthy: false}
	m, desc := newTestMonitor(t, p)

	var events []health.Event
	m.Subscribe(func(ev health.Event) { events = append(events, ev) })

	ctx := context.Background()

	m.CheckProvider(ctx, "provX")
	m.CheckProvider(ctx, "provX")
	assert.Empty(t, events, "no event before the threshold")
	assert.True(t, desc.Enabled(), "provider stays enabled below threshold")

	m.CheckProvider(ctx, "provX")
	require.Len(t, events, 1, "threshold crossing emits exactly one event")
	assert.Equal(t, health.EventDown, events[0].Type)
	assert.Equal(t, "provX", events[0].ProviderID)
	assert.Equal(t, 3, events[0].ConsecutiveErrors)
	assert.False(t, desc.Enabled(), "provider disabled at threshold")

	// A fourth failure while already down stays silent.
	m.CheckProvider(ctx, "provX")
	assert.Len(t, events, 1, "no re-emit while down")

	rec, ok := m.ProviderHealth("provX")
	require.True(t, ok)
	assert.True(t, rec.Down)
	assert.Equal(t, 4, rec.ConsecutiveErrors)
	assert.False(t, rec.Healthy)
}

func TestMonitor_RecoveryReenablesOnce(t *testing.T) {
	p := &probeProvider{healthy: false}
	m, desc := newTestMonitor(t, p)

	var events []health.Event
	m.Subscribe(func(ev health.Event) { events = append(events, ev) })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.CheckProvider(ctx, "provX")
	}
	require.False(t, desc.Enabled())

	p.set(true, nil)
	m.CheckProvider(ctx, "provX")

	require.Len(t, events, 2)
	assert.Equal(t, health.EventRecovered, events[1].Type)
	assert.True(t, desc.Enabled(), "provider re-enabled on recovery")

	rec, _ := m.ProviderHealth("provX")
	assert.False(t, rec.Down)
	assert.Zero(t, rec.ConsecutiveErrors)
	assert.True(t, rec.Healthy)

	// A second healthy probe does not emit another recovered event.
	m.CheckProvider(ctx, "provX")
	assert.Len(t, events, 2)
}

func TestMonitor_ProbeErrorCountsAsFailure(t *testing.T) {
	p := &probeProvider{healthy: true, probeErr: errors.New("connection refused")}
	m, _ := newTestMonitor(t, p)

	m.CheckProvider(context.Background(), "provX")

	rec, ok := m.ProviderHealth("provX")
	require.True(t, ok)
	assert.False(t, rec.Healthy)
	assert.Equal(t, 1, rec.ConsecutiveErrors)
	assert.Greater(t, rec.ErrorRate, 0.0)
}

func TestMonitor_ForceEnableClearsDownState(t *testing.T) {
	p := &probeProvider{healthy: false}
	m, desc := newTestMonitor(t, p)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.CheckProvider(ctx, "provX")
	}
	require.False(t, desc.Enabled())

	assert.True(t, m.ForceEnable("provX"))
	assert.True(t, desc.Enabled())

	rec, _ := m.ProviderHealth("provX")
	assert.False(t, rec.Down)
	assert.Zero(t, rec.ConsecutiveErrors)

	assert.False(t, m.ForceEnable("unknown"))
}

func TestMonitor_SnapshotsAndUptime(t *testing.T) {
	p := &probeProvider{healthy: true, quota: providers.Quota{Used: 95, Limit: 100}}
	m, _ := newTestMonitor(t, p)

	ctx := context.Background()
	m.CheckProvider(ctx, "provX")
	m.CheckProvider(ctx, "provX")
	p.set(false, nil)
	m.CheckProvider(ctx, "provX")
	p.set(true, nil)
	m.CheckProvider(ctx, "provX")

	all := m.AllProviderHealth()
	require.Contains(t, all, "provX")
	rec := all["provX"]

	assert.InDelta(t, 75.0, rec.UptimePercent, 0.01, "3 healthy of 4 checks")
	assert.Equal(t, int64(95), rec.Quota.Used)
	assert.Equal(t, int64(100), rec.Quota.Limit)
	assert.False(t, rec.LastChecked.IsZero())
}

func TestMonitor_ErrorRateDecays(t *testing.T) {
	p := &probeProvider{healthy: false}
	m, _ := newTestMonitor(t, p)

	ctx := context.Background()
	m.CheckProvider(ctx, "provX")
	rec, _ := m.ProviderHealth("provX")
	afterFailure := rec.ErrorRate
	assert.InDelta(t, 0.1, afterFailure, 0.001)

	p.set(true, nil)
	m.CheckProvider(ctx, "provX")
	rec, _ = m.ProviderHealth("provX")
	assert.Less(t, rec.ErrorRate, afterFailure, "healthy sample decays the rate")
	assert.Greater(t, rec.ErrorRate, 0.0, "history is not wiped by one success")
}

func TestMonitor_StartStop(t *testing.T) {
	p := &probeProvider{healthy: true}
	desc := providers.NewDescriptor("provX", "Provider X", "activity", 5, p)
	reg, err := providers.NewRegistry(desc)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := health.NewMonitor(reg, obs.NewMetrics(), logger,
		health.WithInterval(10*time.Millisecond),
	)

	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	rec, ok := m.ProviderHealth("provX")
	require.True(t, ok)
	assert.False(t, rec.LastChecked.IsZero(), "loop ran at least one check")
}
