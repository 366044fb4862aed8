package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tradehub/tradehub-cli/internal/config"
	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed   AlertType = "run_failed"
	AlertFailureRate AlertType = "run_failure_rate"
	AlertDrift       AlertType = "drift"
)

// Alert is one webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Strategy  string         `json:"strategy,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter builds alerts and delivers them to a webhook. Delivery is
// throttled by a token bucket, retried on transient failures and guarded by
// a circuit breaker so a dead endpoint does not slow the pipeline.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	log     *zap.Logger
	now     func() time.Time
}

// NewAlerter creates an Alerter allowing cfg.AlertsPerMinute deliveries per
// minute with the same burst.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	perMinute := cfg.AlertsPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	log := zap.L().With(zap.String("component", "monitoring.alerter"))
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     5 * time.Minute,
			OnStateChange: func(from, to resilience.CircuitState) {
				log.Warn("monitoring: webhook circuit", zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			OnRetry:        resilience.RetryLogger("monitoring.alerter", "webhook"),
		},
		log: log,
		now: time.Now,
	}
}

// Evaluate checks a ledger snapshot against the failure-rate threshold.
// At least five finished runs are needed before the rate is trusted.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	finished := snap.Complete + snap.Failed
	if finished < 5 || snap.FailRate <= a.cfg.FailureRateThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertFailureRate,
		Severity: "high",
		Message: fmt.Sprintf(
			"run failure rate %.1f%% exceeds %.1f%% (%d failed / %d finished in last %dh)",
			snap.FailRate*100, a.cfg.FailureRateThreshold*100, snap.Failed, finished, snap.LookbackHours,
		),
		Details: map[string]any{
			"fail_rate":         snap.FailRate,
			"threshold":         a.cfg.FailureRateThreshold,
			"failed_strategies": snap.FailedStrategies,
		},
		Timestamp: a.now().UTC(),
	}}
}

// RunAlerts returns the alerts for one finished run: fatal stages and
// validator drift.
func (a *Alerter) RunAlerts(r *model.RunResult) []Alert {
	if r == nil {
		return nil
	}
	var alerts []Alert
	now := a.now().UTC()
	for _, s := range r.Stages {
		switch {
		case s.Status == model.StageStatusFatal:
			alerts = append(alerts, Alert{
				Type:      AlertRunFailed,
				Severity:  "high",
				Strategy:  string(r.Strategy),
				Message:   fmt.Sprintf("%s: %s stage failed: %s", r.Strategy, s.Stage, s.Error),
				Details:   map[string]any{"stage": s.Stage, "counts": s.Counts},
				Timestamp: now,
			})
		case s.Stage == model.StageValidate && len(s.Warnings) > 0:
			alerts = append(alerts, Alert{
				Type:      AlertDrift,
				Severity:  "low",
				Strategy:  string(r.Strategy),
				Message:   fmt.Sprintf("%s: %s", r.Strategy, strings.Join(s.Warnings, "; ")),
				Details:   map[string]any{"warnings": s.Warnings},
				Timestamp: now,
			})
		}
	}
	return alerts
}

// Send delivers alerts and returns how many reached the webhook. Without a
// webhook URL alerts are only logged.
func (a *Alerter) Send(ctx context.Context, alerts []Alert) int {
	sent := 0
	for _, alert := range alerts {
		log := a.log.With(zap.String("type", string(alert.Type)), zap.String("strategy", alert.Strategy))
		if a.cfg.WebhookURL == "" {
			log.Warn("monitoring: alert", zap.String("message", alert.Message))
			continue
		}
		if !a.limiter.Allow() {
			log.Warn("monitoring: alert throttled", zap.String("message", alert.Message))
			continue
		}
		err := a.breaker.Execute(ctx, func(ctx context.Context) error {
			return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
				return a.post(ctx, alert)
			})
		})
		if err != nil {
			log.Error("monitoring: failed to send alert", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert sent", zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
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
		return eris.Wrap(&resilience.StatusError{StatusCode: resp.StatusCode}, "monitoring: webhook")
	}
	return nil
}
