// Package alerting turns health, latency and quota signals into deduplicated,
// rate-limited operator alerts dispatched over pluggable channels.
package alerting

import (
	"fmt"
	"time"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RuleType names the condition a rule watches.
type RuleType string

const (
	RuleProviderDown  RuleType = "provider-down"
	RuleHighLatency   RuleType = "high-latency"
	RuleQuotaExceeded RuleType = "quota-exceeded"
	RuleHighErrorRate RuleType = "high-error-rate"
)

// Rule is one alerting rule. Threshold units depend on the type: milliseconds
// for high-latency, percent for quota-exceeded and high-error-rate; unused
// for provider-down, which is event-driven.
type Rule struct {
	ID        string        `json:"id"`
	Type      RuleType      `json:"type"`
	Threshold float64       `json:"threshold,omitempty"`
	Enabled   bool          `json:"enabled"`
	Cooldown  time.Duration `json:"cooldown"`
	Channels  []string      `json:"channels"`
}

// Validate rejects malformed rules at load/update time.
func (r *Rule) Validate(channels map[string]Channel) error {
	switch r.Type {
	case RuleProviderDown:
	case RuleHighLatency, RuleQuotaExceeded, RuleHighErrorRate:
		if r.Threshold <= 0 {
			return fmt.Errorf("rule %q: threshold must be positive", r.ID)
		}
	default:
		return fmt.Errorf("rule %q: unknown type %q", r.ID, r.Type)
	}
	if r.ID == "" {
		return fmt.Errorf("rule of type %q: id is required", r.Type)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %q: cooldown must not be negative", r.ID)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("rule %q: at least one channel is required", r.ID)
	}
	for _, name := range r.Channels {
		if _, ok := channels[name]; !ok {
			return fmt.Errorf("rule %q: unknown channel %q", r.ID, name)
		}
	}
	return nil
}

// Alert is one fired alert. Its identity is ruleID:source, so a rule/provider
// pair has at most one active alert at a time.
type Alert struct {
	ID           string            `json:"id"`
	RuleID       string            `json:"rule_id"`
	Source       string            `json:"source"`
	Severity     Severity          `json:"severity"`
	Message      string            `json:"message"`
	CreatedAt    time.Time         `json:"created_at"`
	Acknowledged bool              `json:"acknowledged"`
	ResolvedAt   *time.Time        `json:"resolved_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Identity is the dedup key for the alert.
func (a *Alert) Identity() string {
	return identity(a.RuleID, a.Source)
}

func identity(ruleID, source string) string {
	return ruleID + ":" + source
}
