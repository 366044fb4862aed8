package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)

type fakeLedger struct {
	runs   []model.Run
	err    error
	filter store.RunFilter
}

func (f *fakeLedger) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	f.filter = filter
	return f.runs, f.err
}

func runWith(strategy model.Strategy, status model.RunStatus, stages ...model.StageResult) model.Run {
	return model.Run{
		Strategy: strategy,
		Status:   status,
		Result:   &model.RunResult{Strategy: strategy, Stages: stages},
	}
}

func TestCollector_Collect(t *testing.T) {
	ledger := &fakeLedger{runs: []model.Run{
		runWith(model.StrategyCSP, model.RunStatusComplete,
			model.StageResult{Stage: model.StageNormalize, Counts: map[string]int{"stale_rejected": 2}},
			model.StageResult{Stage: model.StageValidate, Counts: map[string]int{"drift_warnings": 1}},
		),
		runWith(model.StrategyPMCC, model.RunStatusFailed),
		runWith(model.StrategyCSP, model.RunStatusFailed),
		runWith(model.StrategyCSP, model.RunStatusComplete,
			model.StageResult{Stage: model.StageNormalize, Counts: map[string]int{"stale_rejected": 1}},
		),
		{Strategy: model.StrategyDiagonal, Status: model.RunStatusRanking},
	}}
	c := NewCollector(ledger)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, 2, snap.Complete)
	assert.Equal(t, 2, snap.Failed)
	assert.Equal(t, 1, snap.Running)
	assert.InDelta(t, 0.5, snap.FailRate, 1e-9)
	assert.Equal(t, 3, snap.StaleRejected)
	assert.Equal(t, 1, snap.DriftWarnings)
	assert.Equal(t, []string{"csp", "pmcc"}, snap.FailedStrategies)
	assert.Equal(t, now.Add(-6*time.Hour), ledger.filter.CreatedAfter)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&fakeLedger{}).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.FailRate)
}

func TestCollector_LedgerError(t *testing.T) {
	_, err := NewCollector(&fakeLedger{err: errors.New("db down")}).Collect(context.Background(), 1)
	assert.ErrorContains(t, err, "list runs")
}
