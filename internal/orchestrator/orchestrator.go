// Package orchestrator composes the pipeline stages into per-strategy runs.
// Each stage returns a typed StageResult; a fatal stage stops its own
// strategy and never affects another.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tradehub/tradehub-cli/internal/config"
	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/monitoring"
	"github.com/tradehub/tradehub-cli/internal/normalize"
	"github.com/tradehub/tradehub-cli/internal/rank"
	"github.com/tradehub/tradehub-cli/internal/resilience"
	"github.com/tradehub/tradehub-cli/internal/store"
	"github.com/tradehub/tradehub-cli/internal/suggest"
	"github.com/tradehub/tradehub-cli/internal/tabular"
	"github.com/tradehub/tradehub-cli/internal/unify"
	"github.com/tradehub/tradehub-cli/internal/validate"
)

// Orchestrator runs strategies through unify, normalize, rank and,
// optionally, validate.
type Orchestrator struct {
	cfg         *config.Config
	layout      tabular.Layout
	suggestions *suggest.Store
	ledger      store.Store
	metrics     *monitoring.Metrics
	alerter     *monitoring.Alerter
	retry       resilience.RetryConfig
	scorers     map[model.Strategy]rank.Scorer
	now         func() time.Time
	log         *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records every finished run.
func WithMetrics(m *monitoring.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithAlerter sends alerts for fatal stages and drift.
func WithAlerter(a *monitoring.Alerter) Option { return func(o *Orchestrator) { o.alerter = a } }

// WithScorer replaces the default scorer for one strategy.
func WithScorer(s model.Strategy, sc rank.Scorer) Option {
	return func(o *Orchestrator) { o.scorers[s] = sc }
}

// WithClock replaces time.Now for normalization and ranking.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New builds an Orchestrator from the loaded configuration. A nil ledger
// records nothing.
func New(cfg *config.Config, ledger store.Store, opts ...Option) *Orchestrator {
	if ledger == nil {
		ledger = store.Nop{}
	}
	o := &Orchestrator{
		cfg:    cfg,
		layout: tabular.Layout{L1Dir: cfg.Paths.L1Dir, L2Dir: cfg.Paths.L2Dir},
		suggestions: suggest.NewStore(suggest.Options{
			Dir:       cfg.Paths.OutputDir,
			Glob:      cfg.Suggestions.Glob,
			WriteYAML: cfg.Suggestions.WriteYAML,
		}),
		ledger: ledger,
		retry: resilience.Backoff(cfg.Store.RetryAttempts,
			time.Duration(cfg.Store.RetryBackoffMs)*time.Millisecond),
		scorers: make(map[model.Strategy]rank.Scorer),
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Layout returns the artifact layout.
func (o *Orchestrator) Layout() tabular.Layout { return o.layout }

// Suggestions returns the suggestion store.
func (o *Orchestrator) Suggestions() *suggest.Store { return o.suggestions }

// Run executes one strategy. The returned result is never nil; Fatal()
// reports whether the strategy failed.
func (o *Orchestrator) Run(ctx context.Context, strategy model.Strategy) *model.RunResult {
	log := o.log.With(zap.String("strategy", string(strategy)))
	result := &model.RunResult{Strategy: strategy}

	runID := o.createRun(ctx, strategy, log)
	setStatus := func(status model.RunStatus) {
		if runID == "" {
			return
		}
		if err := o.ledger.UpdateRunStatus(ctx, runID, status); err != nil {
			log.Warn("orchestrator: update status", zap.String("status", string(status)), zap.Error(err))
		}
	}

	steps := []struct {
		status model.RunStatus
		run    func(context.Context, model.Strategy, *model.RunResult) model.StageResult
	}{
		{model.RunStatusUnifying, func(ctx context.Context, s model.Strategy, _ *model.RunResult) model.StageResult {
			return o.Unify(ctx, s)
		}},
		{model.RunStatusNormalizing, func(ctx context.Context, s model.Strategy, _ *model.RunResult) model.StageResult {
			return o.Normalize(ctx, s)
		}},
		{model.RunStatusRanking, o.rankInto},
	}
	for _, step := range steps {
		if result.Fatal() {
			break
		}
		setStatus(step.status)
		result.Add(step.run(ctx, strategy, result))
	}

	if result.Fatal() {
		for _, s := range result.Stages {
			if s.Status == model.StageStatusFatal {
				result.Error = fmt.Sprintf("%s: %s", s.Stage, s.Error)
			}
		}
	} else if o.cfg.Pipeline.ValidateInline {
		result.Add(o.Validate(ctx, strategy))
	}

	o.completeRun(ctx, runID, result, log)
	if o.metrics != nil {
		o.metrics.ObserveRun(result)
	}
	if o.alerter != nil {
		o.alerter.Send(ctx, o.alerter.RunAlerts(result))
	}

	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.Int("suggestions", result.Suggestions),
		zap.String("source_freshness", string(result.Freshness)),
	}
	if result.Fatal() {
		log.Error("orchestrator: run failed", append(fields, zap.String("error", result.Error))...)
	} else {
		log.Info("orchestrator: run complete", fields...)
	}
	return result
}

// RunAll runs the strategies concurrently, bounded by
// pipeline.max_concurrent_strategies. A panic or fatal stage in one strategy
// is recorded in its own result. Results keep the input order.
func (o *Orchestrator) RunAll(ctx context.Context, strategies []model.Strategy) []*model.RunResult {
	results := make([]*model.RunResult, len(strategies))

	g, gctx := errgroup.WithContext(ctx)
	limit := o.cfg.Pipeline.MaxConcurrentStrategies
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, s := range strategies {
		i, s := i, s
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					o.log.Error("orchestrator: strategy panic", zap.String("strategy", string(s)), zap.Any("panic", r))
					res := &model.RunResult{Strategy: s, Error: fmt.Sprintf("panic: %v", r)}
					res.Add(model.StageResult{Stage: model.StageUnify, Status: model.StageStatusFatal, Error: res.Error})
					results[i] = res
				}
			}()
			results[i] = o.Run(gctx, s)
			return nil // don't abort other strategies
		})
	}
	_ = g.Wait()
	return results
}

// Fatal reports whether any result failed.
func Fatal(results []*model.RunResult) bool {
	for _, r := range results {
		if r != nil && r.Fatal() {
			return true
		}
	}
	return false
}

func (o *Orchestrator) createRun(ctx context.Context, strategy model.Strategy, log *zap.Logger) string {
	cfg := o.retry
	cfg.OnRetry = resilience.RetryLogger("orchestrator", "create run")
	run, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.Run, error) {
		return o.ledger.CreateRun(ctx, strategy)
	})
	if err != nil {
		log.Warn("orchestrator: ledger unavailable, run not recorded", zap.Error(err))
		return ""
	}
	return run.ID
}

func (o *Orchestrator) completeRun(ctx context.Context, runID string, result *model.RunResult, log *zap.Logger) {
	if runID == "" {
		return
	}
	// Record the outcome even when the run was interrupted by shutdown.
	ctx = context.WithoutCancel(ctx)
	cfg := o.retry
	cfg.OnRetry = resilience.RetryLogger("orchestrator", "complete run")
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return o.ledger.CompleteRun(ctx, runID, result)
	})
	if err != nil {
		log.Warn("orchestrator: complete run", zap.String("run_id", runID), zap.Error(err))
	}
}

// stage runs fn under the stage timeout and classifies its error.
// Stale rejections and drift are warnings; anything else is fatal.
func (o *Orchestrator) stage(ctx context.Context, strategy model.Strategy, name model.Stage, fn func(ctx context.Context) (map[string]int, []string, error)) (sr model.StageResult) {
	start := time.Now()
	sr = model.StageResult{Stage: name, Status: model.StageStatusOK}
	log := o.log.With(zap.String("strategy", string(strategy)), zap.String("stage", string(name)))

	if secs := o.cfg.Pipeline.StageTimeoutSecs; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			sr.Status = model.StageStatusFatal
			sr.Error = fmt.Sprintf("panic: %v", r)
		}
		sr.Duration = time.Since(start).Milliseconds()
		switch sr.Status {
		case model.StageStatusFatal:
			log.Error("orchestrator: stage failed", zap.Int64("duration_ms", sr.Duration), zap.String("error", sr.Error))
		case model.StageStatusWarning:
			log.Warn("orchestrator: stage warning", zap.Int64("duration_ms", sr.Duration), zap.Strings("warnings", sr.Warnings))
		default:
			log.Debug("orchestrator: stage complete", zap.Int64("duration_ms", sr.Duration), zap.Any("counts", sr.Counts))
		}
	}()

	counts, warnings, err := fn(ctx)
	sr.Counts = counts
	sr.Warnings = warnings
	switch {
	case err == nil:
		if len(warnings) > 0 {
			sr.Status = model.StageStatusWarning
		}
	case errors.Is(err, model.ErrStaleInputRejected), errors.Is(err, model.ErrDrift):
		sr.Status = model.StageStatusWarning
		if len(sr.Warnings) == 0 {
			sr.Warnings = []string{err.Error()}
		}
	default:
		sr.Status = model.StageStatusFatal
		sr.Error = err.Error()
	}
	return sr
}

func (o *Orchestrator) spec(strategy model.Strategy) (*model.StrategySpec, error) {
	spec, err := model.Lookup(string(strategy))
	if err != nil {
		return nil, eris.Wrap(model.ErrSchemaInvalid, err.Error())
	}
	return spec, nil
}

// Unify reads the configured sources and writes the L1 tables.
func (o *Orchestrator) Unify(ctx context.Context, strategy model.Strategy) model.StageResult {
	return o.stage(ctx, strategy, model.StageUnify, func(ctx context.Context) (map[string]int, []string, error) {
		spec, err := o.spec(strategy)
		if err != nil {
			return nil, nil, err
		}
		settings := o.cfg.ForStrategy(strategy)
		res, err := unify.Run(ctx, spec, o.layout, settings.Sources, tabular.Options{Encoding: o.cfg.Pipeline.SourceEncoding})
		if err != nil {
			return nil, nil, err
		}
		return res.Counts(), nil, nil
	})
}

// Normalize applies coercion and the freshness gate to the unified table.
func (o *Orchestrator) Normalize(ctx context.Context, strategy model.Strategy) model.StageResult {
	return o.stage(ctx, strategy, model.StageNormalize, func(ctx context.Context) (map[string]int, []string, error) {
		spec, err := o.spec(strategy)
		if err != nil {
			return nil, nil, err
		}
		settings := o.cfg.ForStrategy(strategy)
		res, err := normalize.Run(ctx, spec, o.layout, normalize.Options{
			MaxAge:     settings.MaxAge,
			AllowStale: settings.AllowStale,
			Now:        o.now,
		})
		if err != nil {
			return nil, nil, err
		}
		return res.Counts(), nil, res.Err()
	})
}

// Rank scores the normalized table, or the unified table when fallback is
// enabled, and publishes the suggestion file.
func (o *Orchestrator) Rank(ctx context.Context, strategy model.Strategy) model.StageResult {
	return o.rankInto(ctx, strategy, &model.RunResult{Strategy: strategy})
}

func (o *Orchestrator) rankInto(ctx context.Context, strategy model.Strategy, result *model.RunResult) model.StageResult {
	return o.stage(ctx, strategy, model.StageRank, func(ctx context.Context) (map[string]int, []string, error) {
		spec, err := o.spec(strategy)
		if err != nil {
			return nil, nil, err
		}
		settings := o.cfg.ForStrategy(strategy)
		in, err := rank.Load(ctx, spec, o.layout, settings.AllowFallback)
		if err != nil {
			return nil, nil, err
		}
		res, path, err := rank.Run(ctx, spec, o.layout, in, o.suggestions, rank.Options{
			TopK:          settings.TopK,
			IVRMin:        settings.IVRMin,
			DTEMin:        settings.DTEMin,
			DTEMax:        settings.DTEMax,
			AllowFallback: settings.AllowFallback,
			Scorer:        o.scorers[strategy],
			Now:           o.now,
		})
		if err != nil {
			return nil, nil, err
		}
		result.Suggestions = res.File.Count
		result.OutputPath = path
		result.Freshness = fileFreshness(res)

		var warnings []string
		if res.Source == rank.SourceFallback {
			warnings = append(warnings, "ranked from unified fallback input")
		}
		return res.Counts(), warnings, nil
	})
}

// Validate audits the unified table against the L1 source copies. Its
// findings are warnings; a validator failure is also only a warning.
func (o *Orchestrator) Validate(ctx context.Context, strategy model.Strategy) model.StageResult {
	sr := o.stage(ctx, strategy, model.StageValidate, func(ctx context.Context) (map[string]int, []string, error) {
		spec, err := o.spec(strategy)
		if err != nil {
			return nil, nil, err
		}
		rep, err := validate.Run(ctx, spec, o.layout, validate.Options{
			RowDeltaTolerance:   o.cfg.Validation.RowDeltaTolerance,
			FieldDriftTolerance: o.cfg.Validation.FieldDriftTolerance,
		})
		if err != nil {
			return nil, nil, err
		}
		return rep.Counts(), rep.Warnings, nil
	})
	if sr.Status == model.StageStatusFatal {
		sr.Status = model.StageStatusWarning
		sr.Warnings = append(sr.Warnings, "validate: "+sr.Error)
		sr.Error = ""
	}
	return sr
}

func fileFreshness(res *rank.Result) model.Freshness {
	if res.Source == rank.SourceFallback {
		return model.FreshnessFallback
	}
	for _, s := range res.File.Suggestions {
		if s.SourceFreshness == model.FreshnessStale {
			return model.FreshnessStale
		}
	}
	return model.FreshnessFresh
}
