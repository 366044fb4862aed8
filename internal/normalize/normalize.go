// Package normalize coerces unified records into typed canonical fields and
// applies the freshness gate.
package normalize

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/tabular"
	"github.com/tradehub/tradehub-cli/internal/unify"
)

// Options configures the freshness gate.
type Options struct {
	// MaxAge disables the gate when <= 0.
	MaxAge     time.Duration
	AllowStale bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Rejection explains why a record was left out of the ranking input.
type Rejection struct {
	Key    string
	Reason string
}

// Result is the normalized table plus the gate's report.
type Result struct {
	Strategy model.Strategy
	// Records is the ranking input, sorted by key. With AllowStale it
	// includes stale records tagged ValidityStale.
	Records       []model.NormalizedRecord
	Invalid       int
	StaleRejected int
	StaleRetained int
	Rejections    []Rejection
}

// Counts flattens the result for stage reporting.
func (r *Result) Counts() map[string]int {
	return map[string]int{
		"records":        len(r.Records),
		"invalid":        r.Invalid,
		"stale_rejected": r.StaleRejected,
		"stale_retained": r.StaleRetained,
	}
}

// Err reports the gate outcome as a recoverable error when anything was
// rejected for staleness, so callers can surface it without failing.
func (r *Result) Err() error {
	if r.StaleRejected == 0 {
		return nil
	}
	return eris.Wrapf(model.ErrStaleInputRejected, "normalize: %s rejected %d stale records", r.Strategy, r.StaleRejected)
}

// Normalize coerces every record and applies the gate. Output depends only on
// the inputs, the options and the clock reading.
func Normalize(spec *model.StrategySpec, recs []model.UnifiedRecord, opts Options) *Result {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	at := now().UTC()

	res := &Result{Strategy: spec.Name}
	for _, rec := range recs {
		n, err := Coerce(spec, rec, at)
		if err != nil {
			res.Invalid++
			res.Rejections = append(res.Rejections, Rejection{Key: rec.Key, Reason: err.Error()})
			continue
		}
		if opts.MaxAge > 0 && (n.SourceTime.IsZero() || n.Age > opts.MaxAge) {
			if !opts.AllowStale {
				res.StaleRejected++
				res.Rejections = append(res.Rejections, Rejection{Key: rec.Key, Reason: "stale: age " + n.Age.Round(time.Second).String()})
				continue
			}
			n.Validity = model.ValidityStale
			res.StaleRetained++
		}
		res.Records = append(res.Records, n)
	}
	sort.Slice(res.Records, func(i, j int) bool { return res.Records[i].Key < res.Records[j].Key })
	return res
}

// Coerce parses a unified record into typed fields. A non-blank value that
// does not parse, or a missing key field, makes the record invalid. Unknown
// columns are dropped.
func Coerce(spec *model.StrategySpec, rec model.UnifiedRecord, now time.Time) (model.NormalizedRecord, error) {
	return coerce(spec, rec, now, false)
}

func coerce(spec *model.StrategySpec, rec model.UnifiedRecord, now time.Time, canonical bool) (model.NormalizedRecord, error) {
	n := model.NormalizedRecord{
		Strategy:   spec.Name,
		Key:        rec.Key,
		Provenance: rec.Provenance,
		SourceTime: rec.SourceTime,
		Validity:   model.ValidityFresh,
		Numbers:    make(map[string]float64),
		Times:      make(map[string]time.Time),
		Strings:    make(map[string]string),
	}
	if !rec.SourceTime.IsZero() {
		n.Age = now.Sub(rec.SourceTime)
	}

	for name, raw := range rec.Fields {
		f, ok := spec.Field(name)
		if !ok || model.IsBlank(raw) {
			continue
		}
		if err := setField(&n, f, raw, canonical); err != nil {
			return n, eris.Wrapf(err, "normalize: %s field %s", rec.Key, name)
		}
	}

	for _, k := range spec.KeyFields {
		_, num := n.Numbers[k]
		_, tm := n.Times[k]
		_, str := n.Strings[k]
		if !num && !tm && !str {
			return n, eris.Wrapf(model.ErrSchemaInvalid, "normalize: %s missing key field %s", rec.Key, k)
		}
	}
	if n.Key == "" {
		key, err := spec.Identity(model.PayloadLookup(n.Payload(spec)))
		if err != nil {
			return n, err
		}
		n.Key = key
	}

	if _, ok := n.Numbers[model.FieldDTE]; !ok {
		if exp, ok := n.Times[model.FieldExpiration]; ok {
			n.Numbers[model.FieldDTE] = float64(DaysToExpiration(exp, now))
		} else if exp, ok := n.Times[model.FieldShortExpiration]; ok {
			n.Numbers[model.FieldDTE] = float64(DaysToExpiration(exp, now))
		}
	}
	return n, nil
}

func setField(n *model.NormalizedRecord, f model.FieldSpec, raw string, canonical bool) error {
	switch f.Kind {
	case model.KindNumber:
		v, err := model.ParseNumber(raw)
		if err != nil {
			return err
		}
		if f.Abs {
			v = math.Abs(v)
		}
		n.Numbers[f.Name] = v
	case model.KindPercent:
		parse := model.ParsePercent
		if canonical {
			parse = model.ParseNumber
		}
		v, err := parse(raw)
		if err != nil {
			return err
		}
		n.Numbers[f.Name] = v
	case model.KindInt:
		v, err := model.ParseInt(raw)
		if err != nil {
			return err
		}
		n.Numbers[f.Name] = float64(v)
	case model.KindDate:
		v, err := model.ParseDate(raw)
		if err != nil {
			return err
		}
		n.Times[f.Name] = v
	case model.KindTimestamp:
		v, err := model.ParseTimestamp(raw)
		if err != nil {
			return err
		}
		n.Times[f.Name] = v
	default:
		v := strings.TrimSpace(raw)
		if f.Name == model.FieldSymbol {
			v = strings.ToUpper(v)
		}
		n.Strings[f.Name] = v
	}
	return nil
}

// DaysToExpiration counts calendar days from now's UTC date to exp.
func DaysToExpiration(exp, now time.Time) int {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(exp.Sub(today).Hours() / 24))
}

// Run loads the unified artifact, normalizes it and writes the normalized artifact.
func Run(ctx context.Context, spec *model.StrategySpec, layout tabular.Layout, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "normalize"), zap.String("strategy", string(spec.Name)))

	recs, err := unify.Load(ctx, spec, layout.Unified(spec.Name))
	if err != nil {
		return nil, eris.Wrap(err, "normalize: read unified")
	}
	res := Normalize(spec, recs, opts)
	if err := tabular.WriteArtifact(layout.Normalized(spec.Name), Artifact(spec, res.Records)); err != nil {
		return nil, eris.Wrap(err, "normalize: write normalized")
	}

	log.Info("normalize: complete",
		zap.Int("records", len(res.Records)),
		zap.Int("invalid", res.Invalid),
		zap.Int("stale_rejected", res.StaleRejected),
		zap.Int("stale_retained", res.StaleRetained),
		zap.Duration("max_age", opts.MaxAge),
		zap.Bool("allow_stale", opts.AllowStale),
	)
	for _, r := range res.Rejections {
		log.Debug("normalize: rejected", zap.String("key", r.Key), zap.String("reason", r.Reason))
	}
	return res, nil
}
