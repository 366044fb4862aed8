// Package tabular reads screener exports (CSV and XLSX) and reads and writes
// the pipeline's CSV artifacts.
package tabular

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encodings accepted for CSV sources.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
)

// Options configures source decoding.
type Options struct {
	Encoding  string // default utf-8
	Delimiter rune   // default ','
	SheetName string // xlsx only; default first sheet
}

// Decode wraps r so a leading BOM is stripped and legacy exports are
// transcoded to UTF-8. A BOM always wins over the configured encoding.
func Decode(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "", EncodingUTF8, "utf8":
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case EncodingWindows1252, "cp1252":
		return transform.NewReader(r, unicode.BOMOverride(charmap.Windows1252.NewDecoder())), nil
	default:
		return nil, eris.Errorf("tabular: unsupported encoding %q", encoding)
	}
}

// StreamCSV reads CSV records and sends them to a channel.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts Options) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		dec, err := Decode(r, opts.Encoding)
		if err != nil {
			errCh <- err
			return
		}
		reader := csv.NewReader(dec)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1 // footer rows are ragged

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "tabular: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "tabular: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "tabular: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// collect drains StreamCSV.
func collect(rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}
