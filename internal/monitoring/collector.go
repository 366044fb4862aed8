package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/store"
)

// Snapshot is a point-in-time view of recent runs.
type Snapshot struct {
	Total    int     `json:"total"`
	Complete int     `json:"complete"`
	Failed   int     `json:"failed"`
	Running  int     `json:"running"`
	FailRate float64 `json:"fail_rate"`

	StaleRejected int `json:"stale_rejected"`
	DriftWarnings int `json:"drift_warnings"`
	// FailedStrategies lists strategies with at least one failed run.
	FailedStrategies []string `json:"failed_strategies,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the ledger read the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector summarizes the run ledger.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect summarizes runs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	failed := make(map[string]bool)
	for _, r := range runs {
		snap.Total++
		switch r.Status {
		case model.RunStatusComplete:
			snap.Complete++
		case model.RunStatusFailed:
			snap.Failed++
			failed[string(r.Strategy)] = true
		default:
			snap.Running++
		}
		if r.Result == nil {
			continue
		}
		if s, ok := r.Result.Stage(model.StageNormalize); ok {
			snap.StaleRejected += s.Counts["stale_rejected"]
		}
		if s, ok := r.Result.Stage(model.StageValidate); ok {
			snap.DriftWarnings += s.Counts["drift_warnings"]
		}
	}

	if finished := snap.Complete + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	for s := range failed {
		snap.FailedStrategies = append(snap.FailedStrategies, s)
	}
	sort.Strings(snap.FailedStrategies)
	return snap, nil
}
