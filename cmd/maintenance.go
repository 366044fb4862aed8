package main

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/monitoring"
	"github.com/tradehub/tradehub-cli/internal/orchestrator"
	"github.com/tradehub/tradehub-cli/internal/repair"
)

// maintenance holds the scheduled sweeps that run beside the poll loop.
type maintenance struct {
	ctx        context.Context
	orch       *orchestrator.Orchestrator
	repairer   *repair.Repairer
	dirs       []string
	strategies []model.Strategy
	metrics    *monitoring.Metrics
	alerter    *monitoring.Alerter
	log        *zap.Logger
}

// register adds the repair and validate jobs. An empty expression skips
// its job.
func (m *maintenance) register(c *cron.Cron, repairSpec, validateSpec string) error {
	if repairSpec != "" {
		if _, err := c.AddFunc(repairSpec, m.repair); err != nil {
			return eris.Wrapf(err, "register repair job %q", repairSpec)
		}
	}
	if validateSpec != "" {
		if _, err := c.AddFunc(validateSpec, m.validate); err != nil {
			return eris.Wrapf(err, "register validate job %q", validateSpec)
		}
	}
	return nil
}

func (m *maintenance) repair() {
	rep, err := m.repairer.Run(m.ctx, m.dirs)
	if err != nil {
		m.log.Error("maintenance: repair", zap.Error(err))
		return
	}
	if m.metrics != nil {
		m.metrics.ObserveRepair(rep.Changed(), rep.Dropped(), rep.Failed())
	}
	m.log.Info("maintenance: repair complete",
		zap.Int("files", len(rep.Files)),
		zap.Int("repaired", rep.Changed()),
		zap.Int("dropped", rep.Dropped()),
		zap.Int("failed", rep.Failed()),
	)
}

func (m *maintenance) validate() {
	for _, s := range m.strategies {
		if m.ctx.Err() != nil {
			return
		}
		sr := m.orch.Validate(m.ctx, s)
		drift := sr.Counts["drift_warnings"]
		if m.metrics != nil {
			m.metrics.ObserveDrift(s, drift)
		}
		if m.alerter != nil && drift > 0 {
			result := &model.RunResult{Strategy: s, Stages: []model.StageResult{sr}}
			m.alerter.Send(m.ctx, m.alerter.RunAlerts(result))
		}
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
