package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSittingFailureRate AlertType = "sitting_failure_rate"
	AlertEscalationBacklog  AlertType = "escalation_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Failure rate only means something once a handful of sittings ran.
	failed := snap.SittingsFailed + snap.SittingsSchemaError
	if snap.SittingsTotal >= 5 && snap.SittingsFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSittingFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Sitting failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d processed in last %dh)",
				snap.SittingsFailRate*100, a.cfg.FailureRateThreshold*100,
				failed, snap.SittingsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.SittingsFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.SittingsFailed,
				"schema_error": snap.SittingsSchemaError,
				"processed":    snap.SittingsTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.EscalationBacklogThreshold > 0 && snap.PendingEscalations > a.cfg.EscalationBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEscalationBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d escalations awaiting review (threshold %d), blocking %d sittings",
				snap.PendingEscalations, a.cfg.EscalationBacklogThreshold, snap.SittingsPending,
			),
			Details: map[string]any{
				"pending_escalations": snap.PendingEscalations,
				"threshold":           a.cfg.EscalationBacklogThreshold,
				"sittings_pending":    snap.SittingsPending,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL, or logs them
// when none is configured. Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if len(alerts) == 0 {
		return 0
	}
	if a.cfg.WebhookURL == "" {
		for _, alert := range alerts {
			zap.L().Warn("monitoring: alert",
				zap.String("type", string(alert.Type)),
				zap.String("severity", alert.Severity),
				zap.String("message", alert.Message),
			)
		}
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
