package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// Channel delivers alerts. Each channel fails independently; the manager
// logs a failed send and carries on with the remaining channels.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// LogChannel writes alerts to the structured log. Always configured as the
// fallback channel.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a LogChannel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, alert *Alert) error {
	c.logger.Warn("alert",
		"rule", alert.RuleID,
		"source", alert.Source,
		"severity", string(alert.Severity),
		"message", alert.Message,
	)
	return nil
}

// WebhookChannel POSTs the alert as JSON to a generic HTTP endpoint.
type WebhookChannel struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewWebhookChannel creates a WebhookChannel.
func NewWebhookChannel(name, url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		name: name,
		url:  url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ChatChannel posts a formatted text message to a chat webhook (Slack-style
// {"text": ...} payload).
type ChatChannel struct {
	webhookURL string
	httpClient *http.Client
}

// NewChatChannel creates a ChatChannel.
func NewChatChannel(webhookURL string, timeout time.Duration) *ChatChannel {
	return &ChatChannel{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *ChatChannel) Name() string { return "chat" }

func (c *ChatChannel) Send(ctx context.Context, alert *Alert) error {
	text := fmt.Sprintf("[%s] %s (%s): %s",
		strings.ToUpper(string(alert.Severity)), alert.RuleID, alert.Source, alert.Message)

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat webhook request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailChannel sends alerts over SMTP.
type EmailChannel struct {
	addr string
	from string
	to   []string
	auth smtp.Auth
}

// NewEmailChannel creates an EmailChannel. auth may be nil for open relays.
func NewEmailChannel(addr, from string, to []string, auth smtp.Auth) *EmailChannel {
	return &EmailChannel{addr: addr, from: from, to: to, auth: auth}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(_ context.Context, alert *Alert) error {
	subject := fmt.Sprintf("[%s] alert %s for %s", alert.Severity, alert.RuleID, alert.Source)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n\r\nfired at %s\r\n",
		c.from, strings.Join(c.to, ", "), subject, alert.Message,
		alert.CreatedAt.Format(time.RFC3339))

	if err := smtp.SendMail(c.addr, c.auth, c.from, c.to, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}
