// Package suggest persists per-strategy suggestion files.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tradehub/tradehub-cli/internal/atomicfile"
	"github.com/tradehub/tradehub-cli/internal/model"
)

// FileSuffix ends every suggestion file name.
const FileSuffix = "_suggestions.json"

// Options configures a Store.
type Options struct {
	Dir string
	// Glob is the hub discovery pattern. Defaults to <Dir>/*_suggestions.json.
	Glob      string
	WriteYAML bool
}

// Store is a directory of suggestion files, one per strategy. Each write is
// an atomic replace, and generated_at never moves backwards for a strategy.
type Store struct {
	dir       string
	glob      string
	writeYAML bool
}

// NewStore returns a Store rooted at opts.Dir.
func NewStore(opts Options) *Store {
	glob := opts.Glob
	if glob == "" {
		glob = filepath.Join(opts.Dir, "*"+FileSuffix)
	}
	s := &Store{
		dir:       opts.Dir,
		glob:      glob,
		writeYAML: opts.WriteYAML,
	}
	if ok, _ := filepath.Match(glob, s.Path(model.StrategyCSP)); !ok {
		zap.L().Warn("suggest: output dir does not match discovery glob",
			zap.String("dir", opts.Dir), zap.String("glob", glob))
	}
	return s
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Glob returns the discovery pattern.
func (s *Store) Glob() string { return s.glob }

// Path returns the suggestion file path of a strategy.
func (s *Store) Path(strategy model.Strategy) string {
	return filepath.Join(s.dir, string(strategy)+FileSuffix)
}

// YAMLPath returns the yaml twin path of a strategy.
func (s *Store) YAMLPath(strategy model.Strategy) string {
	return YAMLPathFor(s.Path(strategy))
}

// fileLocks serializes writers of one suggestion file across every Store
// and the repairer in the process, keyed by absolute path.
var fileLocks sync.Map

func lockPath(path string) func() {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	v, _ := fileLocks.LoadOrStore(path, &sync.Mutex{})
	l := v.(*sync.Mutex)
	l.Lock()
	return l.Unlock
}

// Write publishes f. If the file on disk carries a later generated_at, f is
// clamped to it so the published stamp is non-decreasing.
func (s *Store) Write(ctx context.Context, f *model.SuggestionFile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "suggest: write")
	}
	if err := f.Check(); err != nil {
		return "", eris.Wrap(err, "suggest: refusing to write")
	}

	path := s.Path(f.Strategy)
	defer lockPath(path)()

	if prev, err := s.ReadPath(path); err == nil {
		if prev.GeneratedAt.After(f.GeneratedAt) {
			zap.L().Warn("suggest: clamping generated_at to previous write",
				zap.String("strategy", string(f.Strategy)),
				zap.Time("previous", prev.GeneratedAt),
				zap.Time("requested", f.GeneratedAt),
			)
			f.GeneratedAt = prev.GeneratedAt
		}
	} else if !eris.Is(err, errNotExist) {
		zap.L().Warn("suggest: previous file unreadable, overwriting",
			zap.String("path", path), zap.Error(err))
	}

	if err := WriteFile(path, f, s.writeYAML); err != nil {
		return "", err
	}
	return path, nil
}

// Rewrite replaces the file at path with what fn derives from its current
// contents. It holds the same lock as Write, so a publish cannot land
// between the read and the replace. A nil file from fn leaves path
// untouched. The replacement's generated_at is clamped like Write.
func Rewrite(path string, withYAML bool, fn func(data []byte) (*model.SuggestionFile, error)) (bool, error) {
	defer lockPath(path)()

	data, err := os.ReadFile(path)
	if err != nil {
		return false, eris.Wrapf(model.ErrIOFailure, "suggest: read %s: %v", path, err)
	}
	f, err := fn(data)
	if err != nil || f == nil {
		return false, err
	}
	var prev struct {
		GeneratedAt string `json:"generated_at"`
	}
	if json.Unmarshal(data, &prev) == nil {
		if t, err := model.ParseTimestamp(prev.GeneratedAt); err == nil {
			if t = t.UTC().Truncate(time.Second); t.After(f.GeneratedAt) {
				f.GeneratedAt = t
			}
		}
	}
	if err := WriteFile(path, f, withYAML); err != nil {
		return false, err
	}
	return true, nil
}

// WriteFile atomically replaces path with f and, when withYAML is set, its
// yaml twin next to it.
func WriteFile(path string, f *model.SuggestionFile, withYAML bool) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	if err := atomicfile.WriteBytes(path, 0o644, data); err != nil {
		return eris.Wrapf(model.ErrIOFailure, "suggest: write %s: %v", path, err)
	}
	if !withYAML {
		return nil
	}
	y, err := yaml.Marshal(f)
	if err != nil {
		return eris.Wrap(err, "suggest: encode yaml")
	}
	if err := atomicfile.WriteBytes(YAMLPathFor(path), 0o644, y); err != nil {
		return eris.Wrapf(model.ErrIOFailure, "suggest: write yaml: %v", err)
	}
	return nil
}

// YAMLPathFor returns the yaml twin of a suggestion file path.
func YAMLPathFor(path string) string {
	return strings.TrimSuffix(path, ".json") + ".yml"
}

// Encode renders the JSON form of a file.
func Encode(f *model.SuggestionFile) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f); err != nil {
		return nil, eris.Wrap(err, "suggest: encode json")
	}
	return buf.Bytes(), nil
}

var errNotExist = eris.New("suggestion file does not exist")

// Read loads the file of a strategy.
func (s *Store) Read(strategy model.Strategy) (*model.SuggestionFile, error) {
	return s.ReadPath(s.Path(strategy))
}

// ReadPath loads and checks a suggestion file.
func (s *Store) ReadPath(path string) (*model.SuggestionFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(errNotExist, "suggest: %s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(model.ErrIOFailure, "suggest: read %s: %v", path, err)
	}
	var f model.SuggestionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(model.ErrSchemaInvalid, "suggest: decode %s: %v", path, err)
	}
	for i := range f.Suggestions {
		f.Suggestions[i].Strategy = f.Strategy
	}
	return &f, nil
}

// IsNotExist reports whether err means the file was absent.
func IsNotExist(err error) bool { return eris.Is(err, errNotExist) }

// Entry summarizes one published file.
type Entry struct {
	Path        string         `json:"path"`
	Strategy    model.Strategy `json:"strategy"`
	GeneratedAt time.Time      `json:"generated_at"`
	Count       int            `json:"count"`
	Error       string         `json:"error,omitempty"`
}

// List enumerates files matching the discovery glob, sorted by path.
func (s *Store) List() ([]Entry, error) {
	paths, err := filepath.Glob(s.glob)
	if err != nil {
		return nil, eris.Wrapf(err, "suggest: glob %q", s.glob)
	}
	sort.Strings(paths)
	out := make([]Entry, 0, len(paths))
	for _, p := range paths {
		e := Entry{Path: p, Strategy: StrategyFromPath(p)}
		f, err := s.ReadPath(p)
		if err != nil {
			e.Error = err.Error()
		} else {
			e.Strategy = f.Strategy
			e.GeneratedAt = f.GeneratedAt
			e.Count = f.Count
		}
		out = append(out, e)
	}
	return out, nil
}

// StrategyFromPath infers the strategy from a suggestion file name.
func StrategyFromPath(path string) model.Strategy {
	base := filepath.Base(path)
	return model.Strategy(strings.TrimSuffix(base, FileSuffix))
}
