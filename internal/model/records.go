package model

import (
	"time"
)

// Provenance records which source view(s) contributed a unified record.
type Provenance string

const (
	ProvenanceMain   Provenance = "main"
	ProvenanceCustom Provenance = "custom"
	ProvenanceMerged Provenance = "merged"
)

// Validity is the freshness class a normalized record was given.
type Validity string

const (
	ValidityFresh Validity = "fresh"
	ValidityStale Validity = "stale"
)

// Freshness is carried on every suggestion.
type Freshness string

const (
	FreshnessFresh    Freshness = "fresh"
	FreshnessStale    Freshness = "stale"
	FreshnessFallback Freshness = "fallback"
)

// Valid reports whether f is one of the known freshness tags.
func (f Freshness) Valid() bool {
	switch f {
	case FreshnessFresh, FreshnessStale, FreshnessFallback:
		return true
	}
	return false
}

// ScreenerRow is one raw record from one source view, with headers already
// mapped to canonical field names. Unknown headers are kept verbatim.
type ScreenerRow struct {
	Strategy   Strategy
	Source     string
	Line       int
	Fields     map[string]string
	SourceTime time.Time
}

// SourceTable is one source view read into memory.
type SourceTable struct {
	Strategy Strategy
	Tag      string
	Path     string
	Columns  []string
	Rows     []ScreenerRow
	// Skipped counts footer and blank rows dropped while reading.
	Skipped int
}

// UnifiedRecord is one row of the merged table. At most one exists per Key.
type UnifiedRecord struct {
	Strategy   Strategy
	Key        string
	Fields     map[string]string
	Provenance Provenance
	SourceTime time.Time
	// Backfilled lists fields taken from a secondary source.
	Backfilled []string
	// Conflicts lists fields where a secondary source held a different value.
	Conflicts []string
}

// NormalizedRecord is a unified record coerced to typed canonical fields.
type NormalizedRecord struct {
	Strategy   Strategy
	Key        string
	Provenance Provenance
	SourceTime time.Time
	Age        time.Duration
	Validity   Validity
	Numbers    map[string]float64
	Times      map[string]time.Time
	Strings    map[string]string
}

// Number returns a numeric field.
func (r *NormalizedRecord) Number(name string) (float64, bool) {
	v, ok := r.Numbers[name]
	return v, ok
}

// Payload renders the typed fields as the canonical suggestion payload.
func (r *NormalizedRecord) Payload(spec *StrategySpec) map[string]any {
	out := make(map[string]any, len(r.Numbers)+len(r.Times)+len(r.Strings))
	for k, v := range r.Strings {
		out[k] = v
	}
	for k, v := range r.Numbers {
		if f, ok := spec.Field(k); ok && f.Kind == KindInt {
			out[k] = int64(v)
			continue
		}
		out[k] = v
	}
	for k, v := range r.Times {
		if f, ok := spec.Field(k); ok && f.Kind == KindDate {
			out[k] = v.Format("2006-01-02")
			continue
		}
		out[k] = v.UTC().Format(time.RFC3339)
	}
	return out
}
