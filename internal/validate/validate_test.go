package validate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/tabular"
	"github.com/tradehub/tradehub-cli/internal/unify"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var ts = time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)

var tolerances = Options{RowDeltaTolerance: 0.05, FieldDriftTolerance: 0.10}

func cspTable(tag string, rows ...map[string]string) *model.SourceTable {
	t := &model.SourceTable{Strategy: model.StrategyCSP, Tag: tag}
	for _, r := range rows {
		t.Rows = append(t.Rows, model.ScreenerRow{Strategy: model.StrategyCSP, Source: tag, Fields: r, SourceTime: ts})
	}
	return t
}

func fixture(t *testing.T) (*model.StrategySpec, []*model.SourceTable, []model.UnifiedRecord) {
	t.Helper()
	spec := model.MustLookup(model.StrategyCSP)
	sources := []*model.SourceTable{
		cspTable("main",
			map[string]string{"symbol": "AAPL", "expiration": "2024-02-16", "strike": "180", "iv": "25%"},
			map[string]string{"symbol": "MSFT", "expiration": "2024-02-16", "strike": "370", "iv": "22%"},
			map[string]string{"symbol": "NVDA", "expiration": "2024-02-16", "strike": "500", "iv": "48%"},
		),
		cspTable("custom",
			map[string]string{"symbol": "AAPL", "expiration": "02/16/2024", "strike": "180.00", "iv": "27%", "profit_prob": "81%"},
			map[string]string{"symbol": "KO", "expiration": "02/16/2024", "strike": "60", "iv": "15%"},
		),
	}
	res, err := unify.Unify(spec, sources)
	require.NoError(t, err)
	return spec, sources, res.Records
}

func TestValidate_CleanUnifyHasNoDrift(t *testing.T) {
	spec, sources, unified := fixture(t)

	rep := Validate(spec, unified, sources, tolerances)
	assert.Empty(t, rep.Warnings)
	assert.NoError(t, rep.Err())
	assert.Equal(t, 4, rep.UnifiedRows)
	assert.Equal(t, 4, rep.ExpectedRows)
	assert.Zero(t, rep.RowDelta)

	require.Len(t, rep.Sources, 2)
	assert.Equal(t, "main", rep.Sources[0].Tag)
	assert.Equal(t, 3, rep.Sources[0].Keys)
	assert.InDelta(t, 0.75, rep.Sources[0].Coverage, 1e-9)
	assert.InDelta(t, 0.5, rep.Sources[1].Coverage, 1e-9)

	require.Len(t, rep.Fields, 1)
	assert.Equal(t, FieldDrift{Field: "iv", Compared: 3, Diffs: 0, Rate: 0}, rep.Fields[0])
}

func TestValidate_FieldDriftIsWarning(t *testing.T) {
	spec, sources, unified := fixture(t)
	for i := range unified {
		if unified[i].Fields["symbol"] == "MSFT" {
			unified[i].Fields["iv"] = "35%"
		}
	}

	rep := Validate(spec, unified, sources, tolerances)
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "field iv")
	assert.ErrorIs(t, rep.Err(), model.ErrDrift)
	assert.Equal(t, 1, rep.Fields[0].Diffs)
}

func TestValidate_MissingRowsAndDuplicates(t *testing.T) {
	spec, sources, unified := fixture(t)
	var kept []model.UnifiedRecord
	for _, u := range unified {
		if u.Fields["symbol"] != "NVDA" {
			kept = append(kept, u)
		}
	}
	kept = append(kept, kept[0])
	kept = append(kept, model.UnifiedRecord{Strategy: model.StrategyCSP, Fields: map[string]string{"symbol": "X"}})

	rep := Validate(spec, kept, sources, tolerances)
	assert.Equal(t, 1, rep.NullKeys)
	assert.Equal(t, 1, rep.DuplicateKeys)
	assert.Equal(t, -1, rep.RowDelta)
	assert.InDelta(t, 0.25, rep.RowDeltaRate, 1e-9)
	assert.Equal(t, 1, rep.Sources[0].Missing)
	assert.Len(t, rep.Warnings, 4)
	assert.Equal(t, 4, rep.Counts()["drift_warnings"])
}

func TestValidate_ToleranceSuppressesSmallDelta(t *testing.T) {
	spec, sources, unified := fixture(t)
	rep := Validate(spec, unified[:3], sources, Options{RowDeltaTolerance: 0.5, FieldDriftTolerance: 1})
	for _, w := range rep.Warnings {
		assert.NotContains(t, w, "row delta")
	}
}

func TestRunAgainstPersistedL1(t *testing.T) {
	spec := model.MustLookup(model.StrategyCSP)
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.csv")
	customPath := filepath.Join(dir, "custom.csv")
	require.NoError(t, os.WriteFile(mainPath, []byte(
		"Symbol,Expiration Date,Strike Price,IV\nAAPL,2024-02-16,180,25%\nKO,2024-02-16,60,15%\n"), 0o644))
	require.NoError(t, os.WriteFile(customPath, []byte(
		"Symbol,Expiration Date,Strike Price,Profit Prob\nAAPL,2024-02-16,180,81%\n"), 0o644))

	layout := tabular.Layout{L1Dir: filepath.Join(dir, "l1"), L2Dir: filepath.Join(dir, "l2")}
	_, err := unify.Run(context.Background(), spec, layout, []string{mainPath, customPath}, tabular.Options{})
	require.NoError(t, err)

	rep, err := Run(context.Background(), spec, layout, tolerances)
	require.NoError(t, err)
	assert.Empty(t, rep.Warnings)
	assert.Equal(t, 2, rep.UnifiedRows)
	require.Len(t, rep.Sources, 2)
	assert.Equal(t, layout.Main(spec.Name), rep.Sources[0].Path)

	// Raw exports are accepted as well as L1 copies.
	rep, err = Paths(context.Background(), spec, layout.Unified(spec.Name), []string{mainPath, customPath}, tabular.Options{}, tolerances)
	require.NoError(t, err)
	assert.Empty(t, rep.Warnings)
	assert.Equal(t, 2, rep.ExpectedRows)
}

func TestRunChecksEverySavedSource(t *testing.T) {
	spec := model.MustLookup(model.StrategyCSP)
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	mainPath := write("main.csv", "Symbol,Expiration Date,Strike Price,IV\nAAPL,2024-02-16,180,25%\nKO,2024-02-16,60,15%\n")
	customPath := write("custom.csv", "Symbol,Expiration Date,Strike Price,Profit Prob\nAAPL,2024-02-16,180,81%\n")
	extraPath := write("weekly.csv", "Symbol,Expiration Date,Strike Price,IV\nXOM,2024-02-16,100,30%\n")

	layout := tabular.Layout{L1Dir: filepath.Join(dir, "l1"), L2Dir: filepath.Join(dir, "l2")}
	_, err := unify.Run(context.Background(), spec, layout, []string{mainPath, customPath, extraPath}, tabular.Options{})
	require.NoError(t, err)
	// Derived tables in the same directory are not sources.
	require.NoError(t, os.WriteFile(layout.Normalized(spec.Name), []byte("_key\n"), 0o644))

	rep, err := Run(context.Background(), spec, layout, tolerances)
	require.NoError(t, err)
	assert.Empty(t, rep.Warnings)
	assert.Equal(t, 3, rep.UnifiedRows)
	assert.Equal(t, 3, rep.ExpectedRows)
	assert.Zero(t, rep.RowDelta)
	require.Len(t, rep.Sources, 3)
	assert.Equal(t, []string{"main", "custom", "weekly"},
		[]string{rep.Sources[0].Tag, rep.Sources[1].Tag, rep.Sources[2].Tag})
}

func TestRunMissingUnified(t *testing.T) {
	spec := model.MustLookup(model.StrategyCSP)
	layout := tabular.Layout{L1Dir: t.TempDir()}
	_, err := Run(context.Background(), spec, layout, tolerances)
	assert.ErrorIs(t, err, model.ErrIOFailure)
}
