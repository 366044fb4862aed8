package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Reserved suggestion entry keys. Everything else in an entry is payload.
const (
	KeyID              = "id"
	KeyRank            = "rank"
	KeyScore           = "score"
	KeySourceFreshness = "source_freshness"
)

// Suggestion is one ranked candidate.
type Suggestion struct {
	ID              string         `validate:"required"`
	Strategy        Strategy       `validate:"-"`
	Rank            int            `validate:"gte=1"`
	Score           float64        `validate:"-"`
	SourceFreshness Freshness      `validate:"oneof=fresh stale fallback"`
	Payload         map[string]any `validate:"-"`
}

// Flat returns the entry as persisted: payload fields plus the reserved keys.
func (s Suggestion) Flat() map[string]any {
	out := make(map[string]any, len(s.Payload)+4)
	for k, v := range s.Payload {
		out[k] = v
	}
	out[KeyID] = s.ID
	out[KeyRank] = s.Rank
	out[KeyScore] = s.Score
	out[KeySourceFreshness] = string(s.SourceFreshness)
	return out
}

// MarshalJSON flattens the payload into the entry object.
func (s Suggestion) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Flat())
}

// MarshalYAML mirrors MarshalJSON for the yaml twin.
func (s Suggestion) MarshalYAML() (any, error) {
	return s.Flat(), nil
}

// UnmarshalJSON splits reserved keys from payload. It is strict about the
// reserved keys' types; the repairer works on raw maps instead.
func (s *Suggestion) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return eris.Wrap(err, "model: decode suggestion")
	}
	out := Suggestion{Payload: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case KeyID:
			id, ok := v.(string)
			if !ok {
				return eris.Wrapf(ErrSchemaInvalid, "model: suggestion id is %T", v)
			}
			out.ID = id
		case KeyRank:
			n, ok := v.(float64)
			if !ok {
				return eris.Wrapf(ErrSchemaInvalid, "model: suggestion rank is %T", v)
			}
			out.Rank = int(n)
		case KeyScore:
			n, ok := v.(float64)
			if !ok {
				return eris.Wrapf(ErrSchemaInvalid, "model: suggestion score is %T", v)
			}
			out.Score = n
		case KeySourceFreshness:
			f, ok := v.(string)
			if !ok {
				return eris.Wrapf(ErrSchemaInvalid, "model: suggestion source_freshness is %T", v)
			}
			out.SourceFreshness = Freshness(f)
		default:
			out.Payload[k] = v
		}
	}
	*s = out
	return nil
}

// SuggestionFile is the per-strategy persisted artifact.
type SuggestionFile struct {
	Strategy    Strategy     `json:"strategy" yaml:"strategy"`
	GeneratedAt time.Time    `json:"generated_at" yaml:"generated_at"`
	Count       int          `json:"count" yaml:"count"`
	Suggestions []Suggestion `json:"suggestions" yaml:"suggestions"`
}

// NewSuggestionFile builds a file with Count kept in step with the entries.
func NewSuggestionFile(strategy Strategy, generatedAt time.Time, suggestions []Suggestion) *SuggestionFile {
	if suggestions == nil {
		suggestions = []Suggestion{}
	}
	for i := range suggestions {
		suggestions[i].Strategy = strategy
	}
	return &SuggestionFile{
		Strategy:    strategy,
		GeneratedAt: generatedAt.UTC().Truncate(time.Second),
		Count:       len(suggestions),
		Suggestions: suggestions,
	}
}

// Check verifies the file-level invariants.
func (f *SuggestionFile) Check() error {
	if f.Strategy == "" {
		return eris.Wrap(ErrSchemaInvalid, "model: suggestion file missing strategy")
	}
	if f.Count != len(f.Suggestions) {
		return eris.Wrapf(ErrSchemaInvalid, "model: count %d != %d suggestions", f.Count, len(f.Suggestions))
	}
	seen := make(map[string]bool, len(f.Suggestions))
	for _, s := range f.Suggestions {
		if s.ID == "" {
			return eris.Wrap(ErrSchemaInvalid, "model: suggestion missing id")
		}
		if seen[s.ID] {
			return eris.Wrapf(ErrSchemaInvalid, "model: duplicate suggestion id %s", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
