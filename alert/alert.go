package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/metrics"
	"github.com/ramparthq/rampart/util"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// webhook message format understood by WeCom/DingTalk-style endpoints
type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// Manager fans findings and bans out to a webhook. A per-address limiter
// keeps one noisy client from flooding the channel; bans are not limited
// because the executor already deduplicates repeat bans.
type Manager struct {
	cfg        *config.Alerting
	webhookURL string
	client     *http.Client

	// Hostname, when set, resolves an address to a display name that is
	// appended to alert messages. Lookups share the alert's context.
	Hostname func(ctx context.Context, address string) string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewManager(cfg *config.Alerting, webhookURL string) *Manager {
	return &Manager{
		cfg:        cfg,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiters:   make(map[string]*rate.Limiter),
	}
}

func (m *Manager) enabled() bool {
	return m.cfg.Enabled && m.webhookURL != ""
}

// ShouldAlert reports whether a finding clears the severity floor or matches
// an always-alert type.
func (m *Manager) ShouldAlert(threatType string, severity config.Severity) bool {
	if !m.enabled() {
		return false
	}
	if config.SeverityRank(severity) >= config.SeverityRank(m.cfg.MinSeverity) {
		return true
	}
	for _, always := range m.cfg.AlwaysAlertTypes {
		if always == threatType {
			return true
		}
	}
	return false
}

// allow consumes one alert slot for the address. Each address refills at one
// alert per cooldown period.
func (m *Manager) allow(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, ok := m.limiters[address]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Duration(m.cfg.CooldownSeconds)*time.Second), 1)
		m.limiters[address] = limiter
	}
	return limiter.Allow()
}

// ThreatAlert sends a webhook message for a finding. Findings below the
// severity floor and repeats inside the per-address cooldown are dropped
// silently.
func (m *Manager) ThreatAlert(ctx context.Context, event *database.ThreatEvent) error {
	if !m.ShouldAlert(event.ThreatType, event.Severity) {
		return nil
	}
	if !m.allow(event.IPAddress) {
		return nil
	}

	content := fmt.Sprintf("threat alert\nip: %s%s\ntype: %s\nseverity: %s\ndescription: %s\ntime: %s",
		event.IPAddress, m.hostnameSuffix(ctx, event.IPAddress), event.ThreatType,
		event.Severity, event.Description, event.Timestamp.Format(time.RFC3339))
	return m.send(ctx, content)
}

// BanAlert sends a webhook message for an applied ban.
func (m *Manager) BanAlert(ctx context.Context, record *database.BanRecord) error {
	if !m.enabled() {
		return nil
	}

	expiry := "permanent"
	if !record.IsPermanent && record.BanUntil != nil {
		expiry = fmt.Sprintf("%s (until %s)",
			util.FormatDuration(record.BanUntil.Sub(record.BannedAt)),
			record.BanUntil.Format(time.RFC3339))
	}
	content := fmt.Sprintf("ban applied\nip: %s%s\nreason: %s\nexpiry: %s\nban count: %d",
		record.IPAddress, m.hostnameSuffix(ctx, record.IPAddress), record.Reason,
		expiry, record.BanCount)
	return m.send(ctx, content)
}

// hostnameSuffix renders " (name)" for addresses the resolver knows,
// and nothing otherwise.
func (m *Manager) hostnameSuffix(ctx context.Context, address string) string {
	if m.Hostname == nil {
		return ""
	}
	hostname := m.Hostname(ctx, address)
	if hostname == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", hostname)
}

func (m *Manager) send(ctx context.Context, content string) error {
	body, err := json.Marshal(webhookPayload{MsgType: "text", Text: webhookText{Content: content}})
	if err != nil {
		return fmt.Errorf("failed to serialize alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	metrics.Get().AlertsSent.Inc()
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
