package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/config"
)

// Checker evaluates the ledger on an interval and sends failure-rate alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run blocks until ctx is cancelled. A zero interval disables checking.
func (c *Checker) Run(ctx context.Context) {
	if c.cfg.CheckIntervalSecs <= 0 {
		return
	}
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	c.log.Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one evaluation and returns the number of alerts triggered.
func (c *Checker) Check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: collect", zap.Error(err))
		return 0
	}
	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: no alerts",
			zap.Int("runs", snap.Total),
			zap.Float64("fail_rate", snap.FailRate),
		)
		return 0
	}
	sent := c.alerter.Send(ctx, alerts)
	c.log.Info("monitoring: check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return len(alerts)
}
