package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/monitoring"
	"github.com/tradehub/tradehub-cli/internal/poll"
	"github.com/tradehub/tradehub-cli/internal/store"
	"github.com/tradehub/tradehub-cli/internal/suggest"
)

func testDeps(t *testing.T) serverDeps {
	t.Helper()
	ctx := context.Background()
	ledger, err := store.Open(ctx, store.Config{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() }) //nolint:errcheck

	run, err := ledger.CreateRun(ctx, model.StrategyCSP)
	require.NoError(t, err)
	require.NoError(t, ledger.CompleteRun(ctx, run.ID, &model.RunResult{Strategy: model.StrategyCSP, Suggestions: 1}))
	_, err = ledger.CreateRun(ctx, model.StrategyPMCC)
	require.NoError(t, err)

	dir := t.TempDir()
	sugg := suggest.NewStore(suggest.Options{Dir: dir})
	_, err = sugg.Write(ctx, model.NewSuggestionFile(model.StrategyCSP, time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC), []model.Suggestion{{
		ID: "CSP:AAPL:2030-01-18:180:P", Strategy: model.StrategyCSP, Rank: 1, Score: 0.5,
		SourceFreshness: model.FreshnessFresh,
		Payload:         map[string]any{"symbol": "AAPL", "expiration": "2030-01-18", "strike": 180.0},
	}}))
	require.NoError(t, err)

	return serverDeps{
		metrics:     monitoring.NewMetrics(),
		ledger:      ledger,
		suggestions: sugg,
		driver: func() poll.Stats {
			return poll.Stats{Iterations: 4, Failures: 1, Mode: poll.ModeActive}
		},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildRouter_Healthz(t *testing.T) {
	h := buildRouter(testDeps(t))
	rr := get(t, h, "/healthz")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "active", body["mode"])
	assert.InDelta(t, 4, body["iterations"], 0)
}

func TestBuildRouter_HealthzWithoutDeps(t *testing.T) {
	rr := get(t, buildRouter(serverDeps{}), "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "mode")
}

func TestBuildRouter_Metrics(t *testing.T) {
	deps := testDeps(t)
	deps.metrics.ObserveIteration("active", nil)

	rr := get(t, buildRouter(deps), "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tradehub_poll_iterations_total")
}

func TestBuildRouter_Runs(t *testing.T) {
	h := buildRouter(testDeps(t))

	var runs []model.Run
	rr := get(t, h, "/runs")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)

	rr = get(t, h, "/runs?strategy=csp&limit=5")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)

	rr = get(t, h, "/runs/"+runs[0].ID)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"suggestions":1`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/runs/missing").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/runs?limit=abc").Code)
}

func TestBuildRouter_Suggestions(t *testing.T) {
	h := buildRouter(testDeps(t))

	rr := get(t, h, "/suggestions")
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []suggest.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, model.StrategyCSP, entries[0].Strategy)
	assert.Equal(t, 1, entries[0].Count)

	rr = get(t, h, "/suggestions/csp")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "CSP:AAPL:2030-01-18:180:P")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/suggestions/pmcc").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/suggestions/strangle").Code)
}

func TestBuildRouter_CORSPreflight(t *testing.T) {
	h := buildRouter(serverDeps{})
	req := httptest.NewRequest(http.MethodOptions, "/suggestions", nil)
	req.Header.Set("Origin", "http://hub.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
