// Package rank scores candidates and builds the per-strategy suggestion file.
package rank

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/normalize"
	"github.com/tradehub/tradehub-cli/internal/tabular"
	"github.com/tradehub/tradehub-cli/internal/unify"
)

// Input source labels reported in Result.Source.
const (
	SourceNormalized = "normalized"
	SourceFallback   = "fallback"
)

// Options configures one ranking run. Zero filter bounds are disabled.
type Options struct {
	TopK          int
	IVRMin        float64
	DTEMin        int
	DTEMax        int
	AllowFallback bool
	// Scorer defaults to DefaultScorer for the strategy.
	Scorer Scorer
	Now    func() time.Time
}

// Input holds the preferred normalized set and the unified fallback set.
type Input struct {
	Normalized []model.NormalizedRecord
	Unified    []model.UnifiedRecord
}

// Result is the built suggestion file plus the ranking report.
type Result struct {
	File       *model.SuggestionFile
	Source     string
	Candidates int
	Filtered   int
	Unscorable int
}

// Counts flattens the result for stage reporting.
func (r *Result) Counts() map[string]int {
	return map[string]int{
		"candidates":  r.Candidates,
		"filtered":    r.Filtered,
		"unscorable":  r.Unscorable,
		"suggestions": r.File.Count,
	}
}

type candidate struct {
	rec       model.NormalizedRecord
	freshness model.Freshness
	id        string
	score     float64
}

// Rank selects the input once per run: normalized records when there is at
// least one, else the unified set when fallback is enabled, else
// ErrNoUsableInput. Filters apply before ordering, truncation to TopK after.
func Rank(spec *model.StrategySpec, in Input, opts Options) (*Result, error) {
	if opts.TopK <= 0 {
		return nil, eris.Errorf("rank: top_k must be positive, got %d", opts.TopK)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	at := now().UTC()
	scorer := opts.Scorer
	if scorer == nil {
		scorer = DefaultScorer(spec.Name)
	}

	res := &Result{}
	var pool []candidate
	switch {
	case len(in.Normalized) > 0:
		res.Source = SourceNormalized
		for _, rec := range in.Normalized {
			f := model.FreshnessFresh
			if rec.Validity == model.ValidityStale {
				f = model.FreshnessStale
			}
			pool = append(pool, candidate{rec: rec, freshness: f})
		}
	case opts.AllowFallback:
		res.Source = SourceFallback
		for _, u := range in.Unified {
			rec, err := normalize.Coerce(spec, u, at)
			if err != nil {
				res.Unscorable++
				continue
			}
			pool = append(pool, candidate{rec: rec, freshness: model.FreshnessFallback})
		}
		if len(pool) == 0 {
			return nil, eris.Wrapf(model.ErrNoUsableInput, "rank: %s fallback has no usable unified records", spec.Name)
		}
	default:
		return nil, eris.Wrapf(model.ErrNoUsableInput, "rank: %s has no normalized input and fallback is disabled", spec.Name)
	}
	res.Candidates = len(pool)

	scored := make([]candidate, 0, len(pool))
	ids := make(map[string]string, len(pool))
	for _, c := range pool {
		if !passes(spec, &c.rec, opts) {
			res.Filtered++
			continue
		}
		s := scorer.Score(&c.rec)
		if math.IsNaN(s) || math.IsInf(s, 0) {
			res.Unscorable++
			continue
		}
		id, err := spec.DeriveID(model.PayloadLookup(c.rec.Payload(spec)))
		if err != nil {
			res.Unscorable++
			continue
		}
		if prev, ok := ids[id]; ok && prev != c.rec.Key {
			return nil, eris.Wrapf(model.ErrIDCollision, "rank: %s and %s both derive id %s", prev, c.rec.Key, id)
		}
		ids[id] = c.rec.Key
		c.id = id
		c.score = round4(s)
		scored = append(scored, c)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].rec.Key < scored[j].rec.Key
	})
	if len(scored) > opts.TopK {
		scored = scored[:opts.TopK]
	}

	suggestions := make([]model.Suggestion, 0, len(scored))
	for i, c := range scored {
		suggestions = append(suggestions, model.Suggestion{
			ID:              c.id,
			Strategy:        spec.Name,
			Rank:            i + 1,
			Score:           c.score,
			SourceFreshness: c.freshness,
			Payload:         c.rec.Payload(spec),
		})
	}
	res.File = model.NewSuggestionFile(spec.Name, at, suggestions)
	return res, nil
}

func passes(spec *model.StrategySpec, rec *model.NormalizedRecord, opts Options) bool {
	if opts.IVRMin > 0 && spec.HasFilter(model.FilterIVR) {
		ivr, ok := rec.Number(model.FieldIVRank)
		if !ok || ivr < opts.IVRMin {
			return false
		}
	}
	if (opts.DTEMin > 0 || opts.DTEMax > 0) && spec.HasFilter(model.FilterDTE) {
		dte, ok := rec.Number(model.FieldDTE)
		if !ok {
			return false
		}
		if opts.DTEMin > 0 && dte < float64(opts.DTEMin) {
			return false
		}
		if opts.DTEMax > 0 && dte > float64(opts.DTEMax) {
			return false
		}
	}
	return true
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Publisher persists a suggestion file and returns where it landed.
type Publisher interface {
	Write(ctx context.Context, f *model.SuggestionFile) (string, error)
}

// Load gathers ranking input from the L1 artifacts. A missing normalized
// artifact is an empty normalized set; the unified artifact is only read
// when fallback is enabled.
func Load(ctx context.Context, spec *model.StrategySpec, layout tabular.Layout, allowFallback bool) (Input, error) {
	var in Input
	if path := layout.Normalized(spec.Name); tabular.Exists(path) {
		recs, _, err := normalize.Load(ctx, spec, path)
		if err != nil {
			return in, eris.Wrap(err, "rank: load normalized")
		}
		in.Normalized = recs
	}
	if allowFallback && len(in.Normalized) == 0 {
		if path := layout.Unified(spec.Name); tabular.Exists(path) {
			recs, err := unify.Load(ctx, spec, path)
			if err != nil {
				return in, eris.Wrap(err, "rank: load unified")
			}
			in.Unified = recs
		}
	}
	return in, nil
}

// Run ranks the input, writes the L2 ranked artifact and publishes the file.
func Run(ctx context.Context, spec *model.StrategySpec, layout tabular.Layout, in Input, pub Publisher, opts Options) (*Result, string, error) {
	log := zap.L().With(zap.String("component", "rank"), zap.String("strategy", string(spec.Name)))

	res, err := Rank(spec, in, opts)
	if err != nil {
		return nil, "", err
	}
	if err := tabular.WriteArtifact(layout.Ranked(spec.Name), Artifact(spec, res.File)); err != nil {
		return nil, "", eris.Wrap(err, "rank: write ranked")
	}
	path, err := pub.Write(ctx, res.File)
	if err != nil {
		return nil, "", eris.Wrap(err, "rank: publish")
	}

	log.Info("rank: complete",
		zap.String("source", res.Source),
		zap.Int("candidates", res.Candidates),
		zap.Int("filtered", res.Filtered),
		zap.Int("unscorable", res.Unscorable),
		zap.Int("suggestions", res.File.Count),
		zap.String("path", path),
	)
	return res, path, nil
}

// Artifact renders the ranked suggestions as the L2 table.
func Artifact(spec *model.StrategySpec, f *model.SuggestionFile) *tabular.Artifact {
	present := make(map[string]bool)
	for _, s := range f.Suggestions {
		for k := range s.Payload {
			present[k] = true
		}
	}
	cols := []string{model.KeyID, model.KeyRank, model.KeyScore, model.KeySourceFreshness}
	for _, fs := range spec.Fields {
		if present[fs.Name] {
			cols = append(cols, fs.Name)
		}
	}
	a := &tabular.Artifact{Columns: cols, Rows: make([]map[string]string, 0, len(f.Suggestions))}
	for _, s := range f.Suggestions {
		row := make(map[string]string, len(cols))
		for k, v := range s.Payload {
			row[k] = model.Stringify(v)
		}
		row[model.KeyID] = s.ID
		row[model.KeyRank] = strconv.Itoa(s.Rank)
		row[model.KeyScore] = model.FormatNumber(s.Score)
		row[model.KeySourceFreshness] = string(s.SourceFreshness)
		a.Rows = append(a.Rows, row)
	}
	return a
}
