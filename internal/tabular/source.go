package tabular

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/tradehub/tradehub-cli/internal/model"
)

// footerMarker starts the trailer row Barchart appends to every export.
const footerMarker = "downloaded from"

// ReadSource reads one screener export into a SourceTable with canonical
// column names. Each row's SourceTime comes from its as_of cell when that
// parses, else from the file's modification time.
func ReadSource(ctx context.Context, spec *model.StrategySpec, path, tag string, opts Options) (*model.SourceTable, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrIOFailure, "tabular: stat %s: %v", path, err)
	}

	var raw [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		raw, err = ReadXLSX(path, opts.SheetName)
	default:
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			break
		}
		raw, err = collect(StreamCSV(ctx, f, opts))
		_ = f.Close()
	}
	if err != nil {
		return nil, eris.Wrapf(model.ErrIOFailure, "tabular: read %s: %v", path, err)
	}

	table := &model.SourceTable{Strategy: spec.Name, Tag: tag, Path: path}
	mtime := info.ModTime().UTC()

	headerAt := -1
	for i, row := range raw {
		if !blankRow(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return table, nil
	}
	table.Columns = canonicalColumns(spec, raw[headerAt])

	for i := headerAt + 1; i < len(raw); i++ {
		row := raw[i]
		if blankRow(row) || isFooter(row) {
			table.Skipped++
			continue
		}
		fields := make(map[string]string, len(table.Columns))
		for j, col := range table.Columns {
			if j < len(row) {
				fields[col] = row[j]
			}
		}
		ts := mtime
		if v, ok := fields[model.FieldAsOf]; ok && !model.IsBlank(v) {
			if parsed, perr := model.ParseTimestamp(v); perr == nil {
				ts = parsed
			}
		}
		table.Rows = append(table.Rows, model.ScreenerRow{
			Strategy:   spec.Name,
			Source:     tag,
			Line:       i + 1,
			Fields:     fields,
			SourceTime: ts,
		})
	}
	return table, nil
}

// canonicalColumns dedups physical headers ("Ask", "Ask.2") and maps each to
// its canonical name. When two headers map to the same field the first keeps it.
func canonicalColumns(spec *model.StrategySpec, header []string) []string {
	out := make([]string, len(header))
	seenRaw := make(map[string]int, len(header))
	taken := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "column" + strconv.Itoa(i+1)
		}
		seenRaw[h]++
		if n := seenRaw[h]; n > 1 {
			h = h + "." + strconv.Itoa(n)
		}
		name, _ := spec.Canonical(h)
		if taken[name] {
			name = h
		}
		taken[name] = true
		out[i] = name
	}
	return out
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func isFooter(row []string) bool {
	for _, c := range row {
		if c = strings.TrimSpace(c); c != "" {
			return strings.HasPrefix(strings.ToLower(strings.Trim(c, `"`)), footerMarker)
		}
	}
	return false
}
