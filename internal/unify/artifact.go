package unify

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/tabular"
)

const (
	colKey        = "_key"
	colProvenance = "_provenance"
	colAsOf       = "_as_of"
	colBackfilled = "_backfilled"
	colConflicts  = "_conflicts"
)

// Artifact renders unified records as a CSV artifact. Known fields follow the
// registry order; unknown columns follow, sorted.
func Artifact(spec *model.StrategySpec, recs []model.UnifiedRecord) *tabular.Artifact {
	present := make(map[string]bool)
	for _, r := range recs {
		for k := range r.Fields {
			present[k] = true
		}
	}
	cols := []string{colKey, colProvenance, colAsOf, colBackfilled, colConflicts}
	for _, f := range spec.Fields {
		if present[f.Name] {
			cols = append(cols, f.Name)
			delete(present, f.Name)
		}
	}
	var extra []string
	for k := range present {
		if !tabular.IsMeta(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	cols = append(cols, extra...)

	a := &tabular.Artifact{Columns: cols, Rows: make([]map[string]string, 0, len(recs))}
	for _, r := range recs {
		row := make(map[string]string, len(cols))
		for k, v := range r.Fields {
			row[k] = v
		}
		row[colKey] = r.Key
		row[colProvenance] = string(r.Provenance)
		if !r.SourceTime.IsZero() {
			row[colAsOf] = r.SourceTime.UTC().Format(time.RFC3339)
		}
		row[colBackfilled] = strings.Join(r.Backfilled, ";")
		row[colConflicts] = strings.Join(r.Conflicts, ";")
		a.Rows = append(a.Rows, row)
	}
	return a
}

// Load reads a unified artifact back into records.
func Load(ctx context.Context, spec *model.StrategySpec, path string) ([]model.UnifiedRecord, error) {
	a, err := tabular.ReadArtifact(ctx, path)
	if err != nil {
		return nil, eris.Wrap(err, "unify: load unified")
	}
	recs := make([]model.UnifiedRecord, 0, len(a.Rows))
	for _, row := range a.Rows {
		fields := make(map[string]string, len(row))
		for k, v := range row {
			if !tabular.IsMeta(k) {
				fields[k] = v
			}
		}
		key := row[colKey]
		if key == "" {
			key, err = spec.Identity(model.RowLookup(fields))
			if err != nil {
				continue
			}
		}
		var ts time.Time
		if v := row[colAsOf]; v != "" {
			ts, _ = model.ParseTimestamp(v)
		}
		recs = append(recs, model.UnifiedRecord{
			Strategy:   spec.Name,
			Key:        key,
			Fields:     fields,
			Provenance: model.Provenance(row[colProvenance]),
			SourceTime: ts,
			Backfilled: splitList(row[colBackfilled]),
			Conflicts:  splitList(row[colConflicts]),
		})
	}
	return recs, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}
