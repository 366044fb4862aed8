// Package unify merges per-strategy screener views into one table keyed by
// contract identity.
package unify

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/tabular"
)

// Result is the unified table plus bookkeeping counts.
type Result struct {
	Strategy model.Strategy
	// Records are sorted by Key and hold at most one entry per key.
	Records []model.UnifiedRecord
	// SourceRows counts input rows per source tag.
	SourceRows map[string]int
	// Unkeyed counts rows missing a contract-identifying field.
	Unkeyed int
	// Duplicates counts rows whose key already appeared in the same source.
	Duplicates int
	Merged     int
}

// Counts flattens the result for stage reporting.
func (r *Result) Counts() map[string]int {
	out := map[string]int{
		"records":    len(r.Records),
		"unkeyed":    r.Unkeyed,
		"duplicates": r.Duplicates,
		"merged":     r.Merged,
	}
	for tag, n := range r.SourceRows {
		out["rows_"+tag] = n
	}
	return out
}

// Unify merges tables. tables[0] is the primary source: its non-blank fields
// win, and blank or absent fields are backfilled from later tables in order.
func Unify(spec *model.StrategySpec, tables []*model.SourceTable) (*Result, error) {
	if len(tables) == 0 {
		return nil, eris.Wrap(model.ErrNoUsableInput, "unify: no source tables")
	}

	res := &Result{Strategy: spec.Name, SourceRows: make(map[string]int, len(tables))}
	index := make(map[string]*model.UnifiedRecord)
	backfilled := make(map[string]map[string]bool)
	conflicts := make(map[string]map[string]bool)
	keyFields := make(map[string]bool, len(spec.KeyFields))
	for _, k := range spec.KeyFields {
		keyFields[k] = true
	}

	for _, t := range tables {
		res.SourceRows[t.Tag] += len(t.Rows)
		seen := make(map[string]bool, len(t.Rows))

		for _, row := range t.Rows {
			key, err := spec.Identity(model.RowLookup(row.Fields))
			if err != nil {
				res.Unkeyed++
				continue
			}
			if seen[key] {
				res.Duplicates++
				continue
			}
			seen[key] = true

			rec, ok := index[key]
			if !ok {
				fields := make(map[string]string, len(row.Fields))
				for k, v := range row.Fields {
					fields[k] = v
				}
				index[key] = &model.UnifiedRecord{
					Strategy:   spec.Name,
					Key:        key,
					Fields:     fields,
					Provenance: model.Provenance(t.Tag),
					SourceTime: row.SourceTime,
				}
				continue
			}

			contributed := false
			for k, v := range row.Fields {
				if keyFields[k] || model.IsBlank(v) {
					continue
				}
				cur, has := rec.Fields[k]
				switch {
				case !has || model.IsBlank(cur):
					rec.Fields[k] = v
					contributed = true
					if backfilled[key] == nil {
						backfilled[key] = make(map[string]bool)
					}
					backfilled[key][k] = true
				case !SameValue(cur, v):
					if conflicts[key] == nil {
						conflicts[key] = make(map[string]bool)
					}
					conflicts[key][k] = true
				}
			}
			if contributed {
				rec.Provenance = model.ProvenanceMerged
				// A merged record is only as fresh as its oldest contributor.
				if !row.SourceTime.IsZero() && (rec.SourceTime.IsZero() || row.SourceTime.Before(rec.SourceTime)) {
					rec.SourceTime = row.SourceTime
				}
			}
		}
	}

	res.Records = make([]model.UnifiedRecord, 0, len(index))
	for key, rec := range index {
		rec.Backfilled = sortedKeys(backfilled[key])
		rec.Conflicts = sortedKeys(conflicts[key])
		if rec.Provenance == model.ProvenanceMerged {
			res.Merged++
		}
		res.Records = append(res.Records, *rec)
	}
	sort.Slice(res.Records, func(i, j int) bool { return res.Records[i].Key < res.Records[j].Key })

	return res, nil
}

// ReadSources reads each path as a source table. Tags are main, custom, then
// the file base name for any further sources.
func ReadSources(ctx context.Context, spec *model.StrategySpec, paths []string, opts tabular.Options) ([]*model.SourceTable, error) {
	tables := make([]*model.SourceTable, 0, len(paths))
	for i, p := range paths {
		t, err := tabular.ReadSource(ctx, spec, p, SourceTag(i, p), opts)
		if err != nil {
			return nil, eris.Wrapf(err, "unify: read source %s", p)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// SourceTag names the i-th source.
func SourceTag(i int, path string) string {
	switch i {
	case 0:
		return string(model.ProvenanceMain)
	case 1:
		return string(model.ProvenanceCustom)
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Run reads the sources, unifies them and persists the L1 artifacts.
func Run(ctx context.Context, spec *model.StrategySpec, layout tabular.Layout, paths []string, opts tabular.Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "unify"), zap.String("strategy", string(spec.Name)))
	start := time.Now()

	tables, err := ReadSources(ctx, spec, paths, opts)
	if err != nil {
		return nil, err
	}
	res, err := Unify(spec, tables)
	if err != nil {
		return nil, err
	}
	if err := Save(spec, layout, tables, res); err != nil {
		return nil, err
	}

	log.Info("unify: complete",
		zap.Int("records", len(res.Records)),
		zap.Int("merged", res.Merged),
		zap.Int("unkeyed", res.Unkeyed),
		zap.Int("duplicates", res.Duplicates),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// Save persists each source copy and the unified table under the strategy's L1 dir.
func Save(spec *model.StrategySpec, layout tabular.Layout, tables []*model.SourceTable, res *Result) error {
	for i, t := range tables {
		var path string
		switch i {
		case 0:
			path = layout.Main(spec.Name)
		case 1:
			path = layout.Custom(spec.Name)
		default:
			path = filepath.Join(layout.StrategyDir(spec.Name), t.Tag+".csv")
		}
		if err := tabular.WriteArtifact(path, tabular.SourceArtifact(t)); err != nil {
			return eris.Wrapf(err, "unify: write source copy %s", path)
		}
	}
	if err := tabular.WriteArtifact(layout.Unified(spec.Name), Artifact(spec, res.Records)); err != nil {
		return eris.Wrap(err, "unify: write unified")
	}
	return nil
}

// SavedSources lists the source copies Save wrote for a strategy: main
// first, custom next, then further sources by name.
func SavedSources(spec *model.StrategySpec, layout tabular.Layout) ([]string, error) {
	derived := map[string]bool{
		layout.Main(spec.Name):       true,
		layout.Custom(spec.Name):     true,
		layout.Unified(spec.Name):    true,
		layout.Normalized(spec.Name): true,
	}
	var out []string
	for _, p := range []string{layout.Main(spec.Name), layout.Custom(spec.Name)} {
		if tabular.Exists(p) {
			out = append(out, p)
		}
	}
	extra, err := filepath.Glob(filepath.Join(layout.StrategyDir(spec.Name), "*.csv"))
	if err != nil {
		return nil, eris.Wrap(err, "unify: list source copies")
	}
	sort.Strings(extra)
	for _, p := range extra {
		if !derived[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// SameValue reports whether two cells hold the same value, ignoring case
// and numeric formatting.
func SameValue(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if strings.EqualFold(a, b) {
		return true
	}
	x, errA := model.ParseNumber(a)
	y, errB := model.ParseNumber(b)
	return errA == nil && errB == nil && x == y
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
