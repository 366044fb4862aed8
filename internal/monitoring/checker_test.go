package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tradehub/tradehub-cli/internal/config"
	"github.com/tradehub/tradehub-cli/internal/model"
)

func TestChecker_CheckSendsFailureRateAlert(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	var runs []model.Run
	for i := 0; i < 6; i++ {
		status := model.RunStatusFailed
		if i == 0 {
			status = model.RunStatusComplete
		}
		runs = append(runs, model.Run{Strategy: model.StrategyCSP, Status: status})
	}
	cfg := config.MonitoringConfig{
		WebhookURL:           srv.URL,
		AlertsPerMinute:      5,
		LookbackWindowHours:  6,
		FailureRateThreshold: 0.5,
	}
	c := NewChecker(NewCollector(&fakeLedger{runs: runs}), testAlerter(cfg), cfg)

	assert.Equal(t, 1, c.Check(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 1}
	c := NewChecker(NewCollector(&fakeLedger{}), testAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("checker did not stop")
	}
}

func TestChecker_DisabledReturnsImmediately(t *testing.T) {
	c := NewChecker(NewCollector(&fakeLedger{}), testAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	c.Run(context.Background())
}
