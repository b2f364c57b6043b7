package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/supervision-cli/internal/config"
	"github.com/sells-group/supervision-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUnmappedRate     AlertType = "unmapped_rate"
	AlertInsufficientRate AlertType = "insufficient_data_rate"
	AlertWarningRate      AlertType = "warning_rate"
	AlertCalendarGap      AlertType = "calendar_gap"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type        AlertType      `json:"type"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Alerter evaluates a Report against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg     config.QualityConfig
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewAlerter creates a new Alerter. Webhook posts are paced by
// cfg.WebhookRatePerSec and retried per retry on transient failures.
func NewAlerter(cfg config.QualityConfig, retry resilience.RetryConfig) *Alerter {
	limit := rate.Inf
	if cfg.WebhookRatePerSec > 0 {
		limit = rate.Limit(cfg.WebhookRatePerSec)
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("quality.alerter", "webhook")
	}
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
		retry:   retry,
	}
}

// Evaluate checks the report against thresholds and returns any alerts.
// Rate alerts need at least MinSubmissions records.
func (a *Alerter) Evaluate(r *Report) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	enough := r.Submissions > 0 && r.Submissions >= a.cfg.MinSubmissions
	rateAlert := func(typ AlertType, label string, count int, value, threshold float64) {
		if !enough || threshold <= 0 || value <= threshold {
			return
		}
		alerts = append(alerts, Alert{
			Type:     typ,
			Severity: "high",
			Message: fmt.Sprintf("%s %.1f%% exceeds threshold %.1f%% (%d of %d submissions)",
				label, value*100, threshold*100, count, r.Submissions),
			Details: map[string]any{
				"rate":        value,
				"threshold":   threshold,
				"count":       count,
				"submissions": r.Submissions,
			},
			Fingerprint: r.Fingerprint,
			Timestamp:   now,
		})
	}

	rateAlert(AlertUnmappedRate, "Unmapped branch rate", r.Unmapped, r.UnmappedRate, a.cfg.UnmappedRateThreshold)
	if len(alerts) > 0 && len(r.TopUnmapped) > 0 {
		names := make([]string, 0, len(r.TopUnmapped))
		for _, u := range r.TopUnmapped {
			names = append(names, u.RawName)
		}
		alerts[len(alerts)-1].Details["top_unmapped"] = names
	}
	rateAlert(AlertInsufficientRate, "Insufficient score data rate", r.InsufficientData, r.InsufficientRate, a.cfg.InsufficientRateThreshold)
	rateAlert(AlertWarningRate, "Data-quality warning rate", r.WithWarnings, r.WarningRate, a.cfg.WarningRateThreshold)

	if r.Unclassified > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertCalendarGap,
			Severity: "medium",
			Message: fmt.Sprintf("%d resolved submission(s) fall outside the %s calendar (%s)",
				r.Unclassified, r.CalendarVersion, r.CalendarStatus),
			Details: map[string]any{
				"unclassified":     r.Unclassified,
				"calendar_version": r.CalendarVersion,
				"calendar_status":  r.CalendarStatus,
			},
			Fingerprint: r.Fingerprint,
			Timestamp:   now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.limiter.Wait(ctx); err != nil {
			zap.L().Warn("quality: alert delivery interrupted", zap.Error(err))
			break
		}
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("quality: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("quality: alert sent",
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
		return eris.Wrap(err, "quality: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "quality: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "quality: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("quality: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
