package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// KeyValues resolves the strategy's contract-identifying fields through get
// and returns them in canonical form, in KeyFields order.
func (s *StrategySpec) KeyValues(get func(name string) (string, bool)) ([]string, error) {
	out := make([]string, 0, len(s.KeyFields))
	for _, name := range s.KeyFields {
		raw, ok := get(name)
		if !ok || IsBlank(raw) {
			return nil, eris.Wrapf(ErrSchemaInvalid, "model: %s missing key field %s", s.Name, name)
		}
		v, err := canonicalKeyValue(s.byName[name], raw)
		if err != nil {
			return nil, eris.Wrapf(err, "model: %s key field %s", s.Name, name)
		}
		out = append(out, v)
	}
	return out, nil
}

// Identity is the full-precision contract key, e.g. "csp|AAPL|2024-01-19|182.5".
func (s *StrategySpec) Identity(get func(name string) (string, bool)) (string, error) {
	vals, err := s.KeyValues(get)
	if err != nil {
		return "", err
	}
	return string(s.Name) + "|" + strings.Join(vals, "|"), nil
}

// RowLookup adapts a raw cell map for KeyValues/Identity.
func RowLookup(fields map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := fields[name]
		return v, ok
	}
}

// PayloadLookup adapts a suggestion payload for KeyValues/Identity.
func PayloadLookup(payload map[string]any) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := payload[name]
		if !ok || v == nil {
			return "", false
		}
		return Stringify(v), true
	}
}

// FormatStrike renders a strike with at most two decimals, trailing zeros trimmed.
func FormatStrike(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// DeriveID returns the human-readable suggestion id for a payload. The ranker
// and the repairer both call this, so a backfilled id equals the ranked one.
func DeriveID(strategy Strategy, payload map[string]any) (string, error) {
	spec, err := Lookup(string(strategy))
	if err != nil {
		return "", err
	}
	return spec.DeriveID(PayloadLookup(payload))
}

// DeriveID formats the id from canonical key values.
func (s *StrategySpec) DeriveID(get func(string) (string, bool)) (string, error) {
	vals, err := s.KeyValues(get)
	if err != nil {
		return "", err
	}
	k := make(map[string]string, len(vals))
	for i, name := range s.KeyFields {
		v := vals[i]
		if f := s.byName[name]; f.Kind == KindNumber {
			n, _ := strconv.ParseFloat(v, 64)
			v = FormatStrike(n)
		}
		k[name] = v
	}

	sym := k[FieldSymbol]
	switch s.Name {
	case StrategyCSP:
		return "CSP:" + sym + ":" + k[FieldExpiration] + ":" + k[FieldStrike] + ":P", nil
	case StrategyCoveredCall:
		return "CC:" + sym + ":" + k[FieldExpiration] + ":" + k[FieldStrike] + ":C", nil
	case StrategyLongCall:
		return "LC:" + sym + ":" + k[FieldExpiration] + ":" + k[FieldStrike] + ":C", nil
	case StrategyVerticalBullCall:
		return "BCALL:" + sym + ":" + k[FieldLongStrike] + "-" + k[FieldShortStrike] + ":C@" + k[FieldExpiration], nil
	case StrategyVerticalBullPut:
		return "BPUT:" + sym + ":" + k[FieldLongStrike] + "-" + k[FieldShortStrike] + ":P@" + k[FieldExpiration], nil
	case StrategyDiagonal:
		return "DIAG:" + sym + ":L" + k[FieldLongStrike] + "C@" + k[FieldLongExpiration] +
			"|S" + k[FieldShortStrike] + "C@" + k[FieldShortExpiration], nil
	case StrategyPMCC:
		return "PMCC:" + sym + ":LEAP" + k[FieldLongStrike] + "C@" + k[FieldLongExpiration] +
			"|S" + k[FieldShortStrike] + "C@" + k[FieldShortExpiration], nil
	case StrategyIronCondor:
		return "IC:" + sym + ":" + k[FieldExpiration] + ":" + k[FieldLongPutStrike] + "/" +
			k[FieldShortPutStrike] + "/" + k[FieldShortCallStrike] + "/" + k[FieldLongCallStrike], nil
	}
	return "", eris.Errorf("model: no id format for %s", s.Name)
}
