package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradehub/tradehub-cli/internal/config"
	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/resilience"
)

func testAlerter(cfg config.MonitoringConfig) *Alerter {
	a := NewAlerter(cfg)
	a.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	a.now = func() time.Time { return now }
	return a
}

func TestAlerter_Evaluate(t *testing.T) {
	a := testAlerter(config.MonitoringConfig{FailureRateThreshold: 0.2})

	assert.Empty(t, a.Evaluate(&Snapshot{Complete: 2, Failed: 2, FailRate: 0.5}), "too few runs")
	assert.Empty(t, a.Evaluate(&Snapshot{Complete: 9, Failed: 1, FailRate: 0.1}))

	alerts := a.Evaluate(&Snapshot{Complete: 6, Failed: 4, FailRate: 0.4, LookbackHours: 6, FailedStrategies: []string{"csp"}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Equal(t, now, alerts[0].Timestamp)
}

func TestAlerter_RunAlerts(t *testing.T) {
	a := testAlerter(config.MonitoringConfig{})
	r := &model.RunResult{Strategy: model.StrategyIronCondor}
	r.Add(model.StageResult{Stage: model.StageUnify, Status: model.StageStatusOK})
	r.Add(model.StageResult{Stage: model.StageRank, Status: model.StageStatusFatal, Error: "no usable input"})
	r.Add(model.StageResult{Stage: model.StageValidate, Status: model.StageStatusWarning, Warnings: []string{"row delta 3"}})

	alerts := a.RunAlerts(r)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertRunFailed, alerts[0].Type)
	assert.Equal(t, "iron_condor", alerts[0].Strategy)
	assert.Contains(t, alerts[0].Message, "no usable input")
	assert.Equal(t, AlertDrift, alerts[1].Type)

	assert.Empty(t, a.RunAlerts(nil))
}

func TestAlerter_SendDelivers(t *testing.T) {
	var got []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var al Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&al))
		got = append(got, al)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := testAlerter(config.MonitoringConfig{WebhookURL: srv.URL, AlertsPerMinute: 10})
	sent := a.Send(context.Background(), []Alert{{Type: AlertRunFailed, Strategy: "csp", Message: "boom"}})
	assert.Equal(t, 1, sent)
	require.Len(t, got, 1)
	assert.Equal(t, "csp", got[0].Strategy)
}

func TestAlerter_SendRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := testAlerter(config.MonitoringConfig{WebhookURL: srv.URL, AlertsPerMinute: 10})
	assert.Equal(t, 1, a.Send(context.Background(), []Alert{{Type: AlertDrift}}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestAlerter_SendThrottled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	a := testAlerter(config.MonitoringConfig{WebhookURL: srv.URL, AlertsPerMinute: 2})
	alerts := []Alert{{Type: AlertDrift}, {Type: AlertDrift}, {Type: AlertDrift}, {Type: AlertDrift}}
	assert.Equal(t, 2, a.Send(context.Background(), alerts))
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_BreakerOpensOnDeadWebhook(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := testAlerter(config.MonitoringConfig{WebhookURL: srv.URL, AlertsPerMinute: 100})
	alerts := make([]Alert, 5)
	assert.Zero(t, a.Send(context.Background(), alerts))
	// 400 is not retried; three failures open the breaker and the rest are skipped.
	assert.Equal(t, int32(3), calls.Load())
}

func TestAlerter_NoWebhookOnlyLogs(t *testing.T) {
	a := testAlerter(config.MonitoringConfig{})
	assert.Zero(t, a.Send(context.Background(), []Alert{{Type: AlertDrift}}))
}
