// Package repair fixes schema violations in published suggestion files.
package repair

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/suggest"
)

// legacyListKey is the entry list name used by older rankers.
const legacyListKey = "top"

// QuarantineSuffix ends every quarantine file name.
const QuarantineSuffix = "_suggestions.rejected.jsonl"

// Options configures a Repairer.
type Options struct {
	// QuarantineDir receives unrepairable entries. Empty disables quarantine
	// and such entries are only dropped.
	QuarantineDir string
	WriteYAML     bool
	Now           func() time.Time
}

// FileReport describes what happened to one file.
type FileReport struct {
	Path       string         `json:"path"`
	Strategy   model.Strategy `json:"strategy,omitempty"`
	Changed    bool           `json:"changed"`
	Migrated   bool           `json:"migrated,omitempty"`
	Backfilled int            `json:"backfilled,omitempty"`
	Renumbered int            `json:"renumbered,omitempty"`
	Freshness  int            `json:"freshness_defaulted,omitempty"`
	Duplicates int            `json:"duplicates,omitempty"`
	Dropped    int            `json:"dropped,omitempty"`
	CountFixed bool           `json:"count_fixed,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Report aggregates one repair pass.
type Report struct {
	Files []FileReport `json:"files"`
}

// Changed counts the files that were rewritten.
func (r *Report) Changed() int {
	n := 0
	for _, f := range r.Files {
		if f.Changed {
			n++
		}
	}
	return n
}

// Repaired counts entries that were fixed in place.
func (r *Report) Repaired() int {
	n := 0
	for _, f := range r.Files {
		n += f.Backfilled + f.Renumbered + f.Freshness
	}
	return n
}

// Dropped counts entries removed as duplicates or unrepairable.
func (r *Report) Dropped() int {
	n := 0
	for _, f := range r.Files {
		n += f.Dropped + f.Duplicates
	}
	return n
}

// Failed counts files that could not be processed at all.
func (r *Report) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Error != "" {
			n++
		}
	}
	return n
}

// Repairer rewrites suggestion files into a valid shape. Running it on its
// own output changes nothing.
type Repairer struct {
	opts     Options
	validate *validator.Validate
	log      *zap.Logger
}

// New returns a Repairer.
func New(opts Options) *Repairer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Repairer{
		opts:     opts,
		validate: validator.New(),
		log:      zap.L().With(zap.String("component", "repair")),
	}
}

// Run repairs every suggestion file in dirs. A file that cannot be
// processed is reported and the pass continues.
func (r *Repairer) Run(ctx context.Context, dirs []string) (*Report, error) {
	rep := &Report{}
	for _, dir := range dirs {
		paths, err := filepath.Glob(filepath.Join(dir, "*"+suggest.FileSuffix))
		if err != nil {
			return rep, eris.Wrapf(err, "repair: glob %s", dir)
		}
		sort.Strings(paths)
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return rep, eris.Wrap(err, "repair: cancelled")
			}
			fr, err := r.File(p)
			if err != nil {
				fr.Error = err.Error()
				r.log.Warn("repair: file skipped", zap.String("path", p), zap.Error(err))
			}
			rep.Files = append(rep.Files, fr)
		}
	}
	r.log.Info("repair: complete",
		zap.Int("files", len(rep.Files)),
		zap.Int("changed", rep.Changed()),
		zap.Int("repaired", rep.Repaired()),
		zap.Int("dropped", rep.Dropped()),
		zap.Int("failed", rep.Failed()),
	)
	return rep, nil
}

type rejected struct {
	File   string `json:"file"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Entry  any    `json:"entry"`
}

// File repairs a single suggestion file and rewrites it only when the
// repaired form differs from what is on disk.
func (r *Repairer) File(path string) (FileReport, error) {
	fr := FileReport{Path: path}
	withYAML := r.opts.WriteYAML
	if _, err := os.Stat(suggest.YAMLPathFor(path)); err == nil {
		withYAML = true
	}
	changed, err := suggest.Rewrite(path, withYAML, func(data []byte) (*model.SuggestionFile, error) {
		return r.repair(path, data, &fr)
	})
	if err != nil || !changed {
		return fr, err
	}
	fr.Changed = true
	r.log.Info("repair: file rewritten",
		zap.String("path", path),
		zap.String("strategy", string(fr.Strategy)),
		zap.Bool("migrated", fr.Migrated),
		zap.Int("backfilled", fr.Backfilled),
		zap.Int("renumbered", fr.Renumbered),
		zap.Int("duplicates", fr.Duplicates),
		zap.Int("dropped", fr.Dropped),
	)
	return fr, nil
}

// repair derives the repaired form of one file's contents. It returns nil
// when the contents are already in repaired form.
func (r *Repairer) repair(path string, data []byte, fr *FileReport) (*model.SuggestionFile, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(model.ErrSchemaInvalid, "repair: decode %s: %v", path, err)
	}

	strategy := model.Strategy(stringField(doc, "strategy"))
	if strategy == "" {
		strategy = suggest.StrategyFromPath(path)
	}
	if _, err := model.Lookup(string(strategy)); err != nil {
		return nil, eris.Wrapf(model.ErrSchemaInvalid, "repair: %s: unknown strategy %q", path, strategy)
	}
	fr.Strategy = strategy

	generatedAt := r.opts.Now()
	if raw := stringField(doc, "generated_at"); raw != "" {
		if t, err := model.ParseTimestamp(raw); err == nil {
			generatedAt = t
		}
	}

	list, ok := doc["suggestions"]
	if !ok {
		if legacy, has := doc[legacyListKey]; has {
			list = legacy
			fr.Migrated = true
		}
	}
	entries, _ := list.([]any)

	var (
		kept    []model.Suggestion
		rejects []rejected
		seen    = make(map[string]bool)
	)
	for i, raw := range entries {
		s, fixes, reason := r.entry(strategy, raw, len(kept)+1)
		if reason != "" {
			rejects = append(rejects, rejected{File: path, Index: i, Reason: reason, Entry: raw})
			fr.Dropped++
			continue
		}
		if seen[s.ID] {
			rejects = append(rejects, rejected{File: path, Index: i, Reason: "duplicate id " + s.ID, Entry: raw})
			fr.Duplicates++
			continue
		}
		seen[s.ID] = true
		fr.Backfilled += fixes.id
		fr.Renumbered += fixes.rank
		fr.Freshness += fixes.freshness
		kept = append(kept, s)
	}

	if c, ok := doc["count"].(float64); !ok || int(c) != len(kept) {
		fr.CountFixed = true
	}

	f := model.NewSuggestionFile(strategy, generatedAt, kept)
	if err := f.Check(); err != nil {
		return nil, eris.Wrapf(err, "repair: %s", path)
	}
	out, err := suggest.Encode(f)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(bytes.TrimSpace(out), bytes.TrimSpace(data)) {
		return nil, nil
	}
	if err := r.quarantine(strategy, rejects); err != nil {
		return nil, err
	}
	return f, nil
}

type fixes struct {
	id, rank, freshness int
}

// entry turns one raw list element into a Suggestion. A non-empty reason
// means the element cannot be repaired.
func (r *Repairer) entry(strategy model.Strategy, raw any, position int) (model.Suggestion, fixes, string) {
	var fx fixes
	obj, ok := raw.(map[string]any)
	if !ok {
		return model.Suggestion{}, fx, "entry is not an object"
	}

	s := model.Suggestion{Strategy: strategy, Payload: make(map[string]any, len(obj))}
	for k, v := range obj {
		switch k {
		case model.KeyID, model.KeyRank, model.KeyScore, model.KeySourceFreshness:
		default:
			s.Payload[k] = v
		}
	}

	s.ID, _ = obj[model.KeyID].(string)
	if s.ID == "" {
		id, err := model.DeriveID(strategy, s.Payload)
		if err != nil {
			return s, fx, "cannot derive id: " + err.Error()
		}
		s.ID = id
		fx.id = 1
	}

	score, ok := number(obj[model.KeyScore])
	if !ok {
		return s, fx, "score is missing or not a number"
	}
	s.Score = score

	if rank, ok := number(obj[model.KeyRank]); ok && rank >= 1 && rank == float64(int(rank)) {
		s.Rank = int(rank)
	} else {
		s.Rank = position
		fx.rank = 1
	}

	f, _ := obj[model.KeySourceFreshness].(string)
	s.SourceFreshness = model.Freshness(f)
	if !s.SourceFreshness.Valid() {
		s.SourceFreshness = model.FreshnessStale
		fx.freshness = 1
	}

	if err := r.validate.Struct(s); err != nil {
		return s, fx, "invalid entry: " + err.Error()
	}
	return s, fx, ""
}

func (r *Repairer) quarantine(strategy model.Strategy, rejects []rejected) error {
	if len(rejects) == 0 || r.opts.QuarantineDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.opts.QuarantineDir, 0o755); err != nil {
		return eris.Wrapf(model.ErrIOFailure, "repair: quarantine dir: %v", err)
	}
	path := filepath.Join(r.opts.QuarantineDir, string(strategy)+QuarantineSuffix)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(model.ErrIOFailure, "repair: open quarantine: %v", err)
	}
	defer fh.Close() //nolint:errcheck

	enc := json.NewEncoder(fh)
	for _, rj := range rejects {
		if err := enc.Encode(rj); err != nil {
			return eris.Wrapf(model.ErrIOFailure, "repair: append quarantine: %v", err)
		}
	}
	return nil
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
