package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var blankTokens = map[string]bool{
	"": true, "-": true, "--": true, "n/a": true, "na": true,
	"null": true, "none": true, "nan": true, "unch": true,
}

// IsBlank reports whether a raw cell carries no value.
func IsBlank(raw string) bool {
	return blankTokens[strings.ToLower(strings.TrimSpace(raw))]
}

// ParseNumber parses a screener number, tolerating thousands separators,
// currency and percent signs.
func ParseNumber(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer(",", "", "$", "", "%", "", " ", "").Replace(s)
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Wrapf(ErrSchemaInvalid, "model: parse number %q", raw)
	}
	return v, nil
}

// ParseInt parses an integral screener number such as DTE or volume.
func ParseInt(raw string) (int64, error) {
	v, err := ParseNumber(raw)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, eris.Wrapf(ErrSchemaInvalid, "model: parse int %q", raw)
	}
	return int64(v), nil
}

// ParsePercent returns a fraction. "12%" and "12" both yield 0.12; values
// already at or below 1.5 are taken as fractions.
func ParsePercent(raw string) (float64, error) {
	v, err := ParseNumber(raw)
	if err != nil {
		return 0, err
	}
	if strings.Contains(raw, "%") || math.Abs(v) > 1.5 {
		v /= 100
	}
	return v, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"Jan 2, 2006",
	"2006/01/02",
	time.RFC3339,
}

// ParseDate parses an expiration date. Barchart suffixes such as "(w)" are ignored.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, " ("); i > 0 {
		s = s[:i]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, eris.Wrapf(ErrSchemaInvalid, "model: parse date %q", raw)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a source or generation timestamp. Zone-less layouts
// are read as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Wrapf(ErrSchemaInvalid, "model: parse timestamp %q", raw)
}

// FormatNumber renders a float with the shortest exact representation.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Stringify renders a decoded JSON or typed payload value as cell text.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return FormatNumber(t)
	case float32:
		return FormatNumber(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// canonicalKeyValue renders a key cell in the form used for identity, so
// "45.00" and "45" or "01/19/2024" and "2024-01-19" match.
func canonicalKeyValue(f FieldSpec, raw string) (string, error) {
	switch f.Kind {
	case KindNumber, KindPercent:
		v, err := ParseNumber(raw)
		if err != nil {
			return "", err
		}
		return FormatNumber(v), nil
	case KindInt:
		v, err := ParseInt(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	case KindDate:
		t, err := ParseDate(raw)
		if err != nil {
			return "", err
		}
		return t.Format("2006-01-02"), nil
	case KindTimestamp:
		t, err := ParseTimestamp(raw)
		if err != nil {
			return "", err
		}
		return t.Format(time.RFC3339), nil
	default:
		return strings.ToUpper(strings.TrimSpace(raw)), nil
	}
}
