package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alex-user-go/listings/internal/health"
	"github.com/alex-user-go/listings/internal/obs"
)

const (
	defaultScanInterval = time.Minute
	defaultCooldown     = 5 * time.Minute
	dispatchTimeout     = 10 * time.Second
	historyLimit        = 500
)

// Manager evaluates alert rules against provider health and dispatches the
// resulting alerts. It reacts to the health monitor's down/recovered events
// and additionally scans health snapshots on an interval for the threshold
// rules that are not event-driven.
type Manager struct {
	monitor  *health.Monitor
	interval time.Duration
	metrics  *obs.Metrics
	logger   *slog.Logger

	mu        sync.Mutex
	rules     map[string]*Rule
	ruleOrder []string
	channels  map[string]Channel
	active    map[string]*Alert
	history   []*Alert
	cooldowns map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ManagerOption tweaks manager construction.
type ManagerOption func(*Manager)

// WithScanInterval overrides the rule-scan interval.
func WithScanInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.interval = d }
}

// NewManager validates the rules, wires the manager to the monitor's events
// and returns it. A provider-down rule is always present; if the
// configuration does not define one, a default using the log channel is
// added.
func NewManager(
	monitor *health.Monitor,
	channels []Channel,
	rules []Rule,
	metrics *obs.Metrics,
	logger *slog.Logger,
	opts ...ManagerOption,
) (*Manager, error) {
	m := &Manager{
		monitor:   monitor,
		interval:  defaultScanInterval,
		metrics:   metrics,
		logger:    logger,
		rules:     make(map[string]*Rule),
		channels:  make(map[string]Channel, len(channels)),
		active:    make(map[string]*Alert),
		cooldowns: make(map[string]time.Time),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, c := range channels {
		if _, ok := m.channels[c.Name()]; ok {
			return nil, fmt.Errorf("duplicate channel %q", c.Name())
		}
		m.channels[c.Name()] = c
	}

	hasDown := false
	for i := range rules {
		r := rules[i]
		if err := r.Validate(m.channels); err != nil {
			return nil, err
		}
		if _, ok := m.rules[r.ID]; ok {
			return nil, fmt.Errorf("duplicate rule %q", r.ID)
		}
		m.rules[r.ID] = &r
		m.ruleOrder = append(m.ruleOrder, r.ID)
		if r.Type == RuleProviderDown {
			hasDown = true
		}
	}

	if !hasDown {
		if _, ok := m.channels["log"]; !ok {
			return nil, fmt.Errorf("no provider-down rule configured and no log channel to default to")
		}
		r := &Rule{
			ID:       string(RuleProviderDown),
			Type:     RuleProviderDown,
			Enabled:  true,
			Cooldown: defaultCooldown,
			Channels: []string{"log"},
		}
		m.rules[r.ID] = r
		m.ruleOrder = append(m.ruleOrder, r.ID)
	}

	monitor.Subscribe(m.handleEvent)
	return m, nil
}

// Start launches the periodic rule scan. Runs until Stop.
func (m *Manager) Start() {
	m.wg.Go(func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Scan(context.Background())
			case <-m.stop:
				return
			}
		}
	})
}

// Stop terminates the scan loop and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Scan evaluates every enabled threshold rule against the current health
// snapshots. One tick of the background loop; exported so tests and operators
// can run it on demand.
func (m *Manager) Scan(ctx context.Context) {
	snapshots := m.monitor.AllProviderHealth()

	// Stable provider order keeps scans deterministic.
	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	m.mu.Lock()
	order := make([]string, len(m.ruleOrder))
	copy(order, m.ruleOrder)
	m.mu.Unlock()

	for _, ruleID := range order {
		m.mu.Lock()
		rule, ok := m.rules[ruleID]
		if !ok || !rule.Enabled || rule.Type == RuleProviderDown {
			m.mu.Unlock()
			continue
		}
		r := *rule
		m.mu.Unlock()

		for _, id := range ids {
			rec := snapshots[id]
			if rec.LastChecked.IsZero() {
				continue
			}
			if sev, msg, meta, breached := evaluate(&r, rec); breached {
				m.fire(ctx, &r, id, sev, msg, meta)
			}
		}
	}
}

// evaluate checks one threshold rule against one provider snapshot.
func evaluate(rule *Rule, rec health.Record) (Severity, string, map[string]string, bool) {
	switch rule.Type {
	case RuleHighLatency:
		ms := float64(rec.AvgLatency.Milliseconds())
		if ms > rule.Threshold {
			return SeverityWarning,
				fmt.Sprintf("average response time %.0fms exceeds %.0fms", ms, rule.Threshold),
				map[string]string{"avg_latency_ms": fmt.Sprintf("%.0f", ms)},
				true
		}
	case RuleQuotaExceeded:
		if rec.Quota.Limit > 0 {
			pct := float64(rec.Quota.Used) / float64(rec.Quota.Limit) * 100
			if pct >= rule.Threshold {
				return SeverityHigh,
					fmt.Sprintf("quota usage %.1f%% exceeds %.1f%% (%d/%d)",
						pct, rule.Threshold, rec.Quota.Used, rec.Quota.Limit),
					map[string]string{"quota_pct": fmt.Sprintf("%.1f", pct)},
					true
			}
		}
	case RuleHighErrorRate:
		pct := rec.ErrorRate * 100
		if pct > rule.Threshold {
			return SeverityHigh,
				fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", pct, rule.Threshold),
				map[string]string{"error_rate_pct": fmt.Sprintf("%.1f", pct)},
				true
		}
	}
	return "", "", nil, false
}

// handleEvent reacts to breaker transitions from the health monitor.
func (m *Manager) handleEvent(ev health.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	switch ev.Type {
	case health.EventDown:
		m.mu.Lock()
		var rule *Rule
		for _, r := range m.rules {
			if r.Type == RuleProviderDown {
				rule = r
				break
			}
		}
		enabled := rule != nil && rule.Enabled
		var r Rule
		if rule != nil {
			r = *rule
		}
		m.mu.Unlock()

		if !enabled {
			return
		}
		m.fire(ctx, &r, ev.ProviderID, SeverityCritical,
			fmt.Sprintf("provider %s is down after %d consecutive probe failures",
				ev.ProviderName, ev.ConsecutiveErrors),
			map[string]string{"consecutive_errors": fmt.Sprintf("%d", ev.ConsecutiveErrors)})

	case health.EventRecovered:
		m.resolveDown(ev.ProviderID)
	}
}

// fire creates and dispatches an alert unless its identity is still inside
// the rule's cooldown window.
func (m *Manager) fire(ctx context.Context, rule *Rule, source string, sev Severity, msg string, meta map[string]string) {
	id := identity(rule.ID, source)
	now := time.Now()

	m.mu.Lock()
	if until, ok := m.cooldowns[id]; ok && now.Before(until) {
		m.mu.Unlock()
		return
	}
	alert := &Alert{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		Source:    source,
		Severity:  sev,
		Message:   msg,
		CreatedAt: now,
		Metadata:  meta,
	}
	m.active[id] = alert
	m.cooldowns[id] = now.Add(rule.Cooldown)
	m.history = append(m.history, alert)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	channels := make([]Channel, 0, len(rule.Channels))
	for _, name := range rule.Channels {
		if c, ok := m.channels[name]; ok {
			channels = append(channels, c)
		}
	}
	m.mu.Unlock()

	m.metrics.AlertsFired.WithLabelValues(rule.ID).Inc()

	// One channel's failure never blocks the others or rolls back the
	// alert's bookkeeping.
	for _, c := range channels {
		if err := c.Send(ctx, alert); err != nil {
			m.logger.Error("alert channel send failed",
				"channel", c.Name(), "rule", rule.ID, "source", source, "error", err)
		}
	}
}

// resolveDown closes the active provider-down alert for source, if any.
// Recovery is alert-closing, not alert-worthy.
func (m *Manager) resolveDown(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, alert := range m.active {
		rule, ok := m.rules[alert.RuleID]
		if !ok || rule.Type != RuleProviderDown || alert.Source != source {
			continue
		}
		now := time.Now()
		alert.ResolvedAt = &now
		delete(m.active, id)
		m.logger.Info("alert resolved", "rule", alert.RuleID, "source", source)
	}
}

// Acknowledge marks an active alert as acknowledged. It stays active.
func (m *Manager) Acknowledge(alertID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, alert := range m.active {
		if alert.ID == alertID {
			alert.Acknowledged = true
			return true
		}
	}
	return false
}

// ActiveAlerts returns the currently active alerts, newest first.
func (m *Manager) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.active))
	for _, alert := range m.active {
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// History returns up to limit historical alerts, newest first. limit <= 0
// returns everything retained.
func (m *Manager) History(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Alert, 0, n)
	for i := len(m.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *m.history[i])
	}
	return out
}

// RuleUpdate is a partial rule change; nil fields keep the current value.
type RuleUpdate struct {
	Threshold *float64       `json:"threshold,omitempty"`
	Enabled   *bool          `json:"enabled,omitempty"`
	Cooldown  *time.Duration `json:"cooldown,omitempty"`
	Channels  []string       `json:"channels,omitempty"`
}

// UpdateRule applies a partial update to a rule at runtime. Malformed updates
// are rejected synchronously and leave the rule unchanged.
func (m *Manager) UpdateRule(ruleID string, update RuleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[ruleID]
	if !ok {
		return fmt.Errorf("unknown rule %q", ruleID)
	}

	next := *rule
	if update.Threshold != nil {
		next.Threshold = *update.Threshold
	}
	if update.Enabled != nil {
		next.Enabled = *update.Enabled
	}
	if update.Cooldown != nil {
		next.Cooldown = *update.Cooldown
	}
	if update.Channels != nil {
		next.Channels = update.Channels
	}
	if err := next.Validate(m.channels); err != nil {
		return err
	}

	*rule = next
	return nil
}

// Rules returns a copy of the current rule set in configuration order.
func (m *Manager) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Rule, 0, len(m.ruleOrder))
	for _, id := range m.ruleOrder {
		if r, ok := m.rules[id]; ok {
			out = append(out, *r)
		}
	}
	return out
}
