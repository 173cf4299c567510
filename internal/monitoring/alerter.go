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

	"github.com/insiderintel/holdings-sync/internal/config"
	"github.com/insiderintel/holdings-sync/internal/institutional"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed      AlertType = "run_failed"
	AlertErrorThreshold AlertType = "error_threshold"
	AlertStaleSync      AlertType = "stale_sync"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunReport is the outcome of one ingestion run.
type RunReport struct {
	Quarter string
	Summary *institutional.Summary
	Err     error
}

// Alerter evaluates run outcomes against configured thresholds and sends
// alerts via webhook when they are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// EvaluateRun returns alerts for a finished run.
func (a *Alerter) EvaluateRun(r RunReport) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	if r.Err != nil {
		details := map[string]any{"quarter": r.Quarter, "error": r.Err.Error()}
		if r.Summary != nil {
			details["filings_found"] = r.Summary.FilingsFound
		}
		alerts = append(alerts, Alert{
			Type:      AlertRunFailed,
			Severity:  "high",
			Message:   fmt.Sprintf("13F sync for %s failed: %v", r.Quarter, r.Err),
			Details:   details,
			Timestamp: now,
		})
	}

	if r.Summary != nil && a.cfg.ErrorThreshold > 0 && r.Summary.ErrorCount() >= a.cfg.ErrorThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertErrorThreshold,
			Severity: "medium",
			Message: fmt.Sprintf("13F sync for %s recorded %d errors (threshold %d)",
				r.Quarter, r.Summary.ErrorCount(), a.cfg.ErrorThreshold),
			Details: map[string]any{
				"quarter":           r.Quarter,
				"errors":            r.Summary.ErrorCount(),
				"threshold":         a.cfg.ErrorThreshold,
				"filings_processed": r.Summary.FilingsProcessed,
				"sample":            r.Summary.Errors,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// EvaluateSnapshot returns alerts for the run history in snap. An empty run
// log is a fresh deployment, not a stale one.
func (a *Alerter) EvaluateSnapshot(snap *Snapshot) []Alert {
	if a.cfg.StaleAfter <= 0 || snap == nil || snap.RunsTotal == 0 {
		return nil
	}
	now := a.now().UTC()

	if snap.LastSuccess != nil && now.Sub(*snap.LastSuccess) <= a.cfg.StaleAfter {
		return nil
	}

	msg := fmt.Sprintf("no 13F sync completed in the last %d runs", snap.RunsTotal)
	details := map[string]any{"runs": snap.RunsTotal, "failed": snap.RunsFailed}
	if snap.LastSuccess != nil {
		msg = fmt.Sprintf("last successful 13F sync was %s ago (threshold %s)",
			now.Sub(*snap.LastSuccess).Round(time.Minute), a.cfg.StaleAfter)
		details["last_success"] = snap.LastSuccess
	}
	return []Alert{{
		Type:      AlertStaleSync,
		Severity:  "high",
		Message:   msg,
		Details:   details,
		Timestamp: now,
	}}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
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
