package repair

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/rank"
	"github.com/tradehub/tradehub-cli/internal/suggest"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readDoc(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func entries(doc map[string]any) []map[string]any {
	var out []map[string]any
	for _, e := range doc["suggestions"].([]any) {
		out = append(out, e.(map[string]any))
	}
	return out
}

func rankedFile(t *testing.T, dir string) string {
	t.Helper()
	spec := model.MustLookup(model.StrategyCSP)
	exp := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	mk := func(sym string, strike, pprob float64) model.NormalizedRecord {
		return model.NormalizedRecord{
			Strategy: model.StrategyCSP,
			Key:      "csp|" + sym + "|2024-02-16|" + model.FormatNumber(strike),
			Validity: model.ValidityFresh,
			Numbers:  map[string]float64{model.FieldStrike: strike, model.FieldProfitProb: pprob, model.FieldDTE: 37},
			Times:    map[string]time.Time{model.FieldExpiration: exp},
			Strings:  map[string]string{model.FieldSymbol: sym},
		}
	}
	res, err := rank.Rank(spec, rank.Input{Normalized: []model.NormalizedRecord{
		mk("AAPL", 182.5, 0.9), mk("MSFT", 370, 0.7), mk("KO", 60, 0.6),
	}}, rank.Options{TopK: 10, Now: fixedNow})
	require.NoError(t, err)

	store := suggest.NewStore(suggest.Options{Dir: dir})
	path, err := store.Write(context.Background(), res.File)
	require.NoError(t, err)
	return path
}

// Removing an id and repairing must restore exactly the ranked id.
func TestRepair_BackfillsMissingIDLikeRanker(t *testing.T) {
	dir := t.TempDir()
	path := rankedFile(t, dir)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	doc := readDoc(t, path)
	list := doc["suggestions"].([]any)
	delete(list[1].(map[string]any), "id")
	writeJSON(t, path, doc)

	rep, err := New(Options{Now: fixedNow}).Run(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Len(t, rep.Files, 1)
	fr := rep.Files[0]
	assert.True(t, fr.Changed)
	assert.Equal(t, 1, fr.Backfilled)
	assert.False(t, fr.CountFixed)

	got := readDoc(t, path)
	assert.Equal(t, "CSP:MSFT:2024-02-16:370:P", entries(got)[1]["id"])
	assert.InDelta(t, 3, got["count"], 0)

	repaired, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, string(original), string(repaired))
}

func TestRepair_Idempotent(t *testing.T) {
	dir := t.TempDir()
	qdir := filepath.Join(t.TempDir(), "quarantine")
	path := filepath.Join(dir, "csp_suggestions.json")
	writeJSON(t, path, map[string]any{
		"generated_at": "2024-01-10 15:00:00Z",
		"count":        7,
		"top": []any{
			map[string]any{"symbol": "AAPL", "expiration": "2024-02-16", "strike": 180, "score": 0.9, "rank": 1, "source_freshness": "fresh"},
			map[string]any{"symbol": "MSFT", "expiration": "2024-02-16", "strike": 370, "score": 0.8},
			map[string]any{"id": "CSP:AAPL:2024-02-16:180:P", "symbol": "AAPL", "expiration": "2024-02-16", "strike": 180, "score": 0.7, "rank": 3},
			map[string]any{"symbol": "KO", "score": 0.6, "rank": 4},
			"not an entry",
			map[string]any{"symbol": "XOM", "expiration": "2024-02-16", "strike": 100, "rank": 6},
		},
	})

	r := New(Options{QuarantineDir: qdir, Now: fixedNow})
	first, err := r.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	fr := first.Files[0]
	assert.True(t, fr.Changed)
	assert.True(t, fr.Migrated)
	assert.True(t, fr.CountFixed)
	assert.Equal(t, model.StrategyCSP, fr.Strategy)
	assert.Equal(t, 1, fr.Backfilled)
	assert.Equal(t, 1, fr.Renumbered)
	assert.Equal(t, 1, fr.Freshness)
	assert.Equal(t, 1, fr.Duplicates)
	assert.Equal(t, 3, fr.Dropped)

	afterFirst, err := os.ReadFile(path)
	require.NoError(t, err)

	second, err := r.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.False(t, second.Files[0].Changed)
	assert.Zero(t, second.Repaired())
	assert.Zero(t, second.Dropped())

	afterSecond, err := os.ReadFile(path)
	require.NoError(t, err)
	if diff := cmp.Diff(string(afterFirst), string(afterSecond)); diff != "" {
		t.Errorf("second repair changed the file (-first +second):\n%s", diff)
	}

	doc := readDoc(t, path)
	assert.Equal(t, "csp", doc["strategy"])
	assert.Equal(t, "2024-01-10T15:00:00Z", doc["generated_at"])
	assert.NotContains(t, doc, "top")
	es := entries(doc)
	require.Len(t, es, 2)
	assert.Equal(t, "CSP:AAPL:2024-02-16:180:P", es[0]["id"])
	assert.Equal(t, "CSP:MSFT:2024-02-16:370:P", es[1]["id"])
	assert.InDelta(t, 2, es[1]["rank"], 0)
	assert.Equal(t, "stale", es[1]["source_freshness"])

	fh, err := os.Open(filepath.Join(qdir, "csp"+QuarantineSuffix))
	require.NoError(t, err)
	defer fh.Close()
	var lines int
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		var rj rejected
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rj))
		assert.Equal(t, path, rj.File)
		assert.NotEmpty(t, rj.Reason)
		lines++
	}
	assert.Equal(t, 4, lines, "quarantine is written once")
}

func TestRepair_ValidFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := rankedFile(t, dir)
	info, err := os.Stat(path)
	require.NoError(t, err)

	rep, err := New(Options{Now: fixedNow}).Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.False(t, rep.Files[0].Changed)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), after.ModTime())
}

func TestRepair_CorruptFileReportedAndSkipped(t *testing.T) {
	dir := t.TempDir()
	rankedFile(t, dir)
	bad := filepath.Join(dir, "pmcc_suggestions.json")
	require.NoError(t, os.WriteFile(bad, []byte("{truncated"), 0o644))

	rep, err := New(Options{Now: fixedNow}).Run(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Len(t, rep.Files, 2)
	assert.Equal(t, 1, rep.Failed())

	var badReport FileReport
	for _, f := range rep.Files {
		if f.Path == bad {
			badReport = f
		}
	}
	assert.Contains(t, badReport.Error, "schema invalid")

	data, err := os.ReadFile(bad)
	require.NoError(t, err)
	assert.Equal(t, "{truncated", string(data))
}

func TestRepair_UnknownStrategy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strangle_suggestions.json")
	writeJSON(t, path, map[string]any{"suggestions": []any{}})

	_, err := New(Options{Now: fixedNow}).File(path)
	assert.ErrorIs(t, err, model.ErrSchemaInvalid)
}

func TestRepair_RefreshesYAMLTwin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "covered_call_suggestions.json")
	writeJSON(t, path, map[string]any{
		"strategy":     "covered_call",
		"generated_at": "2024-01-10T15:00:00Z",
		"suggestions": []any{
			map[string]any{"symbol": "T", "expiration": "2024-03-15", "strike": 17.5, "score": 0.5, "rank": 1, "source_freshness": "fresh"},
		},
	})

	rep, err := New(Options{WriteYAML: true, Now: fixedNow}).Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.True(t, rep.Files[0].Changed)

	y, err := os.ReadFile(suggest.YAMLPathFor(path))
	require.NoError(t, err)
	assert.Contains(t, string(y), "CC:T:2024-03-15:17.5:C")
}

func TestRepair_Cancelled(t *testing.T) {
	dir := t.TempDir()
	rankedFile(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Run(ctx, []string{dir})
	assert.ErrorIs(t, err, context.Canceled)
}
