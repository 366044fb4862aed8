// Package validate compares a unified table with the source views it was
// built from and reports data-quality drift. Findings never fail a run.
package validate

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/tabular"
	"github.com/tradehub/tradehub-cli/internal/unify"
)

// Options holds the drift tolerances as fractions.
type Options struct {
	RowDeltaTolerance   float64
	FieldDriftTolerance float64
}

// SourceCheck summarizes one source view against the unified table.
type SourceCheck struct {
	Tag           string  `json:"tag"`
	Path          string  `json:"path,omitempty"`
	Rows          int     `json:"rows"`
	Keys          int     `json:"keys"`
	NullKeys      int     `json:"null_keys"`
	DuplicateKeys int     `json:"duplicate_keys"`
	Missing       int     `json:"missing_from_unified"`
	Coverage      float64 `json:"coverage"`
}

// FieldDrift counts value differences between the primary source and the
// unified table for one field.
type FieldDrift struct {
	Field    string  `json:"field"`
	Compared int     `json:"compared"`
	Diffs    int     `json:"diffs"`
	Rate     float64 `json:"rate"`
}

// Report is the validator output for one strategy.
type Report struct {
	Strategy      model.Strategy `json:"strategy"`
	UnifiedRows   int            `json:"unified_rows"`
	ExpectedRows  int            `json:"expected_rows"`
	RowDelta      int            `json:"row_delta"`
	RowDeltaRate  float64        `json:"row_delta_rate"`
	NullKeys      int            `json:"null_keys"`
	DuplicateKeys int            `json:"duplicate_keys"`
	Sources       []SourceCheck  `json:"sources"`
	Fields        []FieldDrift   `json:"fields"`
	Warnings      []string       `json:"warnings"`
}

// Counts flattens the report for stage reporting.
func (r *Report) Counts() map[string]int {
	return map[string]int{
		"unified_rows":   r.UnifiedRows,
		"expected_rows":  r.ExpectedRows,
		"null_keys":      r.NullKeys,
		"duplicate_keys": r.DuplicateKeys,
		"drift_warnings": len(r.Warnings),
	}
}

// Err returns ErrDrift when any tolerance was exceeded.
func (r *Report) Err() error {
	if len(r.Warnings) == 0 {
		return nil
	}
	return eris.Wrapf(model.ErrDrift, "validate: %s: %s", r.Strategy, strings.Join(r.Warnings, "; "))
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate compares unified with sources. sources[0] is the primary view
// whose values the unified table is expected to carry.
func Validate(spec *model.StrategySpec, unified []model.UnifiedRecord, sources []*model.SourceTable, opts Options) *Report {
	rep := &Report{Strategy: spec.Name, UnifiedRows: len(unified), Warnings: []string{}}

	byKey := make(map[string]*model.UnifiedRecord, len(unified))
	for i := range unified {
		rec := &unified[i]
		key, err := spec.Identity(model.RowLookup(rec.Fields))
		if err != nil {
			rep.NullKeys++
			continue
		}
		if _, dup := byKey[key]; dup {
			rep.DuplicateKeys++
			continue
		}
		byKey[key] = rec
	}
	if rep.NullKeys > 0 {
		rep.warn("%d unified rows lack a key field", rep.NullKeys)
	}
	if rep.DuplicateKeys > 0 {
		rep.warn("%d duplicate keys in unified table", rep.DuplicateKeys)
	}

	expected := make(map[string]bool)
	var primary map[string]model.ScreenerRow
	for i, src := range sources {
		check, rows := checkSource(spec, src, byKey)
		for k := range rows {
			expected[k] = true
		}
		if i == 0 {
			primary = rows
		}
		if check.Missing > 0 {
			rep.warn("%s: %d source keys missing from unified table", check.Tag, check.Missing)
		}
		rep.Sources = append(rep.Sources, check)
	}

	rep.ExpectedRows = len(expected)
	rep.RowDelta = len(byKey) - rep.ExpectedRows
	rep.RowDeltaRate = math.Abs(float64(rep.RowDelta)) / math.Max(1, float64(rep.ExpectedRows))
	if rep.RowDeltaRate > opts.RowDeltaTolerance {
		rep.warn("row delta %d (%.1f%%) exceeds %.1f%%", rep.RowDelta, rep.RowDeltaRate*100, opts.RowDeltaTolerance*100)
	}

	rep.Fields = fieldDrift(spec, primary, byKey)
	for _, fd := range rep.Fields {
		if fd.Rate > opts.FieldDriftTolerance {
			rep.warn("field %s differs from primary in %d/%d rows", fd.Field, fd.Diffs, fd.Compared)
		}
	}
	return rep
}

func checkSource(spec *model.StrategySpec, src *model.SourceTable, byKey map[string]*model.UnifiedRecord) (SourceCheck, map[string]model.ScreenerRow) {
	check := SourceCheck{Tag: src.Tag, Path: src.Path, Rows: len(src.Rows)}
	rows := make(map[string]model.ScreenerRow, len(src.Rows))
	for _, row := range src.Rows {
		key, err := spec.Identity(model.RowLookup(row.Fields))
		if err != nil {
			check.NullKeys++
			continue
		}
		if _, dup := rows[key]; dup {
			check.DuplicateKeys++
			continue
		}
		rows[key] = row
		if _, ok := byKey[key]; !ok {
			check.Missing++
		}
	}
	check.Keys = len(rows)
	if len(byKey) > 0 {
		covered := check.Keys - check.Missing
		check.Coverage = float64(covered) / float64(len(byKey))
	}
	return check, rows
}

func fieldDrift(spec *model.StrategySpec, primary map[string]model.ScreenerRow, byKey map[string]*model.UnifiedRecord) []FieldDrift {
	keyFields := make(map[string]bool, len(spec.KeyFields))
	for _, k := range spec.KeyFields {
		keyFields[k] = true
	}
	stats := make(map[string]*FieldDrift)
	for key, row := range primary {
		rec, ok := byKey[key]
		if !ok {
			continue
		}
		for name, v := range row.Fields {
			if keyFields[name] || model.IsBlank(v) {
				continue
			}
			if _, known := spec.Field(name); !known {
				continue
			}
			fd := stats[name]
			if fd == nil {
				fd = &FieldDrift{Field: name}
				stats[name] = fd
			}
			fd.Compared++
			if !unify.SameValue(rec.Fields[name], v) {
				fd.Diffs++
			}
		}
	}
	out := make([]FieldDrift, 0, len(stats))
	for _, fd := range stats {
		fd.Rate = float64(fd.Diffs) / float64(fd.Compared)
		out = append(out, *fd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// LoadSource reads a source view. L1 copies written by the unifier are
// recognised by their bookkeeping columns; anything else is read as a raw
// screener export.
func LoadSource(ctx context.Context, spec *model.StrategySpec, path, tag string, opts tabular.Options) (*model.SourceTable, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		a, err := tabular.ReadArtifact(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, c := range a.Columns {
			if c == "_source" {
				return tabular.SourceFromArtifact(spec.Name, tag, path, a), nil
			}
		}
	}
	return tabular.ReadSource(ctx, spec, path, tag, opts)
}

// Paths validates a unified artifact against explicit source files.
func Paths(ctx context.Context, spec *model.StrategySpec, unifiedPath string, sourcePaths []string, srcOpts tabular.Options, opts Options) (*Report, error) {
	unified, err := unify.Load(ctx, spec, unifiedPath)
	if err != nil {
		return nil, eris.Wrap(err, "validate: load unified")
	}
	var sources []*model.SourceTable
	for i, p := range sourcePaths {
		src, err := LoadSource(ctx, spec, p, unify.SourceTag(i, p), srcOpts)
		if err != nil {
			return nil, eris.Wrapf(err, "validate: load source %s", p)
		}
		sources = append(sources, src)
	}
	rep := Validate(spec, unified, sources, opts)
	logReport(rep)
	return rep, nil
}

// Run validates the persisted L1 tables of a strategy.
func Run(ctx context.Context, spec *model.StrategySpec, layout tabular.Layout, opts Options) (*Report, error) {
	paths, err := unify.SavedSources(spec, layout)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 || paths[0] != layout.Main(spec.Name) {
		paths = append([]string{layout.Main(spec.Name)}, paths...)
	}
	return Paths(ctx, spec, layout.Unified(spec.Name), paths, tabular.Options{}, opts)
}

func logReport(rep *Report) {
	log := zap.L().With(zap.String("component", "validate"), zap.String("strategy", string(rep.Strategy)))
	for _, w := range rep.Warnings {
		log.Warn("validate: drift", zap.String("finding", w))
	}
	log.Info("validate: complete",
		zap.Int("unified_rows", rep.UnifiedRows),
		zap.Int("expected_rows", rep.ExpectedRows),
		zap.Int("row_delta", rep.RowDelta),
		zap.Int("warnings", len(rep.Warnings)),
	)
}
