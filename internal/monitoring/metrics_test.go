package monitoring

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradehub/tradehub-cli/internal/model"
)

func TestMetrics_ObserveRun(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun(&model.RunResult{
		Strategy:    model.StrategyCSP,
		Suggestions: 7,
		Stages: []model.StageResult{
			{Stage: model.StageUnify, Status: model.StageStatusOK, Duration: 120},
			{Stage: model.StageNormalize, Status: model.StageStatusWarning, Duration: 40,
				Counts: map[string]int{"stale_rejected": 3, "invalid": 1}},
			{Stage: model.StageRank, Status: model.StageStatusOK, Duration: 10},
			{Stage: model.StageValidate, Status: model.StageStatusWarning, Counts: map[string]int{"drift_warnings": 2}},
		},
	})
	failed := &model.RunResult{Strategy: model.StrategyCSP}
	failed.Add(model.StageResult{Stage: model.StageRank, Status: model.StageStatusFatal})
	m.ObserveRun(failed)
	m.ObserveRun(nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("csp", "complete")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("csp", "failed")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.staleRejected.WithLabelValues("csp")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.invalid.WithLabelValues("csp")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.driftWarnings.WithLabelValues("csp")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.suggestions.WithLabelValues("csp")), 0, "fatal rank keeps the last good count")
}

func TestMetrics_ObserveIterationAndRepair(t *testing.T) {
	m := NewMetrics()
	m.ObserveIteration("active", nil)
	m.ObserveIteration("active", errors.New("boom"))
	m.ObserveIteration("off_peak", nil)
	m.ObserveRepair(2, 5, 1)

	assert.InDelta(t, 1, testutil.ToFloat64(m.pollIterations.WithLabelValues("active", "failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.pollIterations.WithLabelValues("off_peak", "ok")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.repairs.WithLabelValues("dropped_entries")), 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveDrift(model.StrategyPMCC, 4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tradehub_drift_warnings_total{strategy="pmcc"} 4`)
}
