package normalize

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/tabular"
)

const (
	colKey        = "_key"
	colProvenance = "_provenance"
	colAsOf       = "_as_of"
	colValidity   = "_validity"
	colAge        = "_age_seconds"
)

// Artifact renders normalized records with canonical cell text: fractions for
// percents, ISO dates, RFC 3339 timestamps.
func Artifact(spec *model.StrategySpec, recs []model.NormalizedRecord) *tabular.Artifact {
	present := make(map[string]bool)
	for _, r := range recs {
		for k := range r.Numbers {
			present[k] = true
		}
		for k := range r.Times {
			present[k] = true
		}
		for k := range r.Strings {
			present[k] = true
		}
	}
	cols := []string{colKey, colProvenance, colAsOf, colValidity, colAge}
	for _, f := range spec.Fields {
		if present[f.Name] {
			cols = append(cols, f.Name)
		}
	}

	a := &tabular.Artifact{Columns: cols, Rows: make([]map[string]string, 0, len(recs))}
	for _, r := range recs {
		row := make(map[string]string, len(cols))
		for k, v := range r.Payload(spec) {
			row[k] = model.Stringify(v)
		}
		row[colKey] = r.Key
		row[colProvenance] = string(r.Provenance)
		if !r.SourceTime.IsZero() {
			row[colAsOf] = r.SourceTime.UTC().Format(time.RFC3339)
		}
		row[colValidity] = string(r.Validity)
		row[colAge] = strconv.FormatInt(int64(r.Age/time.Second), 10)
		a.Rows = append(a.Rows, row)
	}
	return a
}

// Load reads a normalized artifact. Rows that no longer parse are skipped and
// counted in the returned invalid total.
func Load(ctx context.Context, spec *model.StrategySpec, path string) ([]model.NormalizedRecord, int, error) {
	a, err := tabular.ReadArtifact(ctx, path)
	if err != nil {
		return nil, 0, eris.Wrap(err, "normalize: load normalized")
	}
	var (
		out     []model.NormalizedRecord
		invalid int
	)
	for _, row := range a.Rows {
		fields := make(map[string]string, len(row))
		for k, v := range row {
			if !tabular.IsMeta(k) {
				fields[k] = v
			}
		}
		var ts time.Time
		if v := row[colAsOf]; v != "" {
			ts, _ = model.ParseTimestamp(v)
		}
		rec := model.UnifiedRecord{
			Strategy: spec.Name, Key: row[colKey], Fields: fields,
			Provenance: model.Provenance(row[colProvenance]), SourceTime: ts,
		}
		n, err := coerce(spec, rec, ts, true)
		if err != nil {
			invalid++
			continue
		}
		if secs, err := strconv.ParseInt(row[colAge], 10, 64); err == nil {
			n.Age = time.Duration(secs) * time.Second
		}
		if row[colValidity] == string(model.ValidityStale) {
			n.Validity = model.ValidityStale
		}
		out = append(out, n)
	}
	return out, invalid, nil
}
