package tabular

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tradehub/tradehub-cli/internal/atomicfile"
	"github.com/tradehub/tradehub-cli/internal/model"
)

// Artifact is a pipeline CSV file: a header plus rows keyed by column.
type Artifact struct {
	Columns []string
	Rows    []map[string]string
}

// WriteArtifact writes an artifact atomically.
func WriteArtifact(path string, a *Artifact) error {
	return atomicfile.Write(path, 0o644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(a.Columns); err != nil {
			return err
		}
		rec := make([]string, len(a.Columns))
		for _, row := range a.Rows {
			for i, c := range a.Columns {
				rec[i] = row[c]
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadArtifact reads a file written by WriteArtifact.
func ReadArtifact(ctx context.Context, path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrIOFailure, "tabular: open %s: %v", path, err)
	}
	defer f.Close()

	raw, err := collect(StreamCSV(ctx, f, Options{}))
	if err != nil {
		return nil, eris.Wrapf(model.ErrIOFailure, "tabular: read %s: %v", path, err)
	}
	a := &Artifact{}
	if len(raw) == 0 {
		return a, nil
	}
	a.Columns = raw[0]
	for _, row := range raw[1:] {
		m := make(map[string]string, len(a.Columns))
		for i, c := range a.Columns {
			if i < len(row) {
				m[c] = row[i]
			}
		}
		a.Rows = append(a.Rows, m)
	}
	return a, nil
}

// Exists reports whether an artifact is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Layout resolves the per-strategy artifact paths under the L1 and L2 roots.
type Layout struct {
	L1Dir string
	L2Dir string
}

// StrategyDir returns the L1 directory of a strategy.
func (l Layout) StrategyDir(s model.Strategy) string { return filepath.Join(l.L1Dir, string(s)) }

// Main returns the canonicalized copy of the primary source.
func (l Layout) Main(s model.Strategy) string { return filepath.Join(l.StrategyDir(s), "main.csv") }

// Custom returns the canonicalized copy of the secondary source.
func (l Layout) Custom(s model.Strategy) string { return filepath.Join(l.StrategyDir(s), "custom.csv") }

// Unified returns the unified table.
func (l Layout) Unified(s model.Strategy) string {
	return filepath.Join(l.StrategyDir(s), "unified.csv")
}

// Normalized returns the normalized table.
func (l Layout) Normalized(s model.Strategy) string {
	return filepath.Join(l.StrategyDir(s), "normalized.csv")
}

// Ranked returns the L2 ranked table.
func (l Layout) Ranked(s model.Strategy) string {
	return filepath.Join(l.L2Dir, string(s), "ranked.csv")
}

// SourceArtifact converts a SourceTable for persistence under L1.
func SourceArtifact(t *model.SourceTable) *Artifact {
	cols := append([]string{"_source", "_line", "_as_of"}, t.Columns...)
	a := &Artifact{Columns: cols, Rows: make([]map[string]string, 0, len(t.Rows))}
	for _, r := range t.Rows {
		m := make(map[string]string, len(cols))
		for k, v := range r.Fields {
			m[k] = v
		}
		m["_source"] = r.Source
		m["_line"] = strconv.Itoa(r.Line)
		m["_as_of"] = r.SourceTime.UTC().Format(time.RFC3339)
		a.Rows = append(a.Rows, m)
	}
	return a
}

// SourceFromArtifact reverses SourceArtifact so the validator can compare
// persisted L1 copies with the unified table.
func SourceFromArtifact(strategy model.Strategy, tag, path string, a *Artifact) *model.SourceTable {
	t := &model.SourceTable{Strategy: strategy, Tag: tag, Path: path}
	for _, c := range a.Columns {
		if !IsMeta(c) {
			t.Columns = append(t.Columns, c)
		}
	}
	for i, row := range a.Rows {
		fields := make(map[string]string, len(t.Columns))
		for _, c := range t.Columns {
			fields[c] = row[c]
		}
		ts, _ := model.ParseTimestamp(row["_as_of"])
		src := row["_source"]
		if src == "" {
			src = tag
		}
		t.Rows = append(t.Rows, model.ScreenerRow{
			Strategy: strategy, Source: src, Line: i + 2, Fields: fields, SourceTime: ts,
		})
	}
	return t
}

// IsMeta reports whether a column is pipeline bookkeeping rather than a field.
func IsMeta(col string) bool { return strings.HasPrefix(col, "_") }
