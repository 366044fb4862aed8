package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		strategy Strategy
		payload  map[string]any
		want     string
	}{
		{
			name:     "csp",
			strategy: StrategyCSP,
			payload:  map[string]any{"symbol": "aapl", "expiration": "2024-01-19", "strike": 182.5},
			want:     "CSP:AAPL:2024-01-19:182.5:P",
		},
		{
			name:     "covered call integral strike",
			strategy: StrategyCoveredCall,
			payload:  map[string]any{"symbol": "MSFT", "expiration": "01/19/2024", "strike": "400.00"},
			want:     "CC:MSFT:2024-01-19:400:C",
		},
		{
			name:     "long call",
			strategy: StrategyLongCall,
			payload:  map[string]any{"symbol": "NVDA", "expiration": "2024-03-15", "strike": 500.0},
			want:     "LC:NVDA:2024-03-15:500:C",
		},
		{
			name:     "bull call",
			strategy: StrategyVerticalBullCall,
			payload:  map[string]any{"symbol": "SPY", "expiration": "2024-02-16", "long_strike": 480.0, "short_strike": 490.0},
			want:     "BCALL:SPY:480-490:C@2024-02-16",
		},
		{
			name:     "bull put",
			strategy: StrategyVerticalBullPut,
			payload:  map[string]any{"symbol": "QQQ", "expiration": "2024-02-16", "long_strike": 390.0, "short_strike": 400.0},
			want:     "BPUT:QQQ:390-400:P@2024-02-16",
		},
		{
			name:     "diagonal",
			strategy: StrategyDiagonal,
			payload: map[string]any{
				"symbol": "AMD", "long_expiration": "2024-06-21", "long_strike": 150.0,
				"short_expiration": "2024-02-16", "short_strike": 170.0,
			},
			want: "DIAG:AMD:L150C@2024-06-21|S170C@2024-02-16",
		},
		{
			name:     "pmcc",
			strategy: StrategyPMCC,
			payload: map[string]any{
				"symbol": "KO", "long_expiration": "2025-01-17", "long_strike": 50.0,
				"short_expiration": "2024-02-16", "short_strike": 62.5,
			},
			want: "PMCC:KO:LEAP50C@2025-01-17|S62.5C@2024-02-16",
		},
		{
			name:     "iron condor",
			strategy: StrategyIronCondor,
			payload: map[string]any{
				"symbol": "IWM", "expiration": "2024-02-16", "long_put_strike": 180.0,
				"short_put_strike": 185.0, "short_call_strike": 205.0, "long_call_strike": 210.0,
			},
			want: "IC:IWM:2024-02-16:180/185/205/210",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DeriveID(tt.strategy, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveID_MissingKeyField(t *testing.T) {
	t.Parallel()

	_, err := DeriveID(StrategyCSP, map[string]any{"symbol": "AAPL", "strike": 100.0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestDeriveID_UnknownStrategy(t *testing.T) {
	t.Parallel()

	_, err := DeriveID("strangle", map[string]any{"symbol": "AAPL"})
	assert.Error(t, err)
}

func TestFormatStrike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{45, "45"},
		{45.5, "45.5"},
		{45.25, "45.25"},
		{45.125, "45.13"},
		{0.5, "0.5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatStrike(tt.in))
	}
}

func TestIdentity_FullPrecision(t *testing.T) {
	t.Parallel()

	spec := MustLookup(StrategyCSP)
	a, err := spec.Identity(PayloadLookup(map[string]any{"symbol": "X", "expiration": "2024-01-19", "strike": 10.001}))
	require.NoError(t, err)
	b, err := spec.Identity(PayloadLookup(map[string]any{"symbol": "X", "expiration": "2024-01-19", "strike": 10.004}))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	idA, err := spec.DeriveID(PayloadLookup(map[string]any{"symbol": "X", "expiration": "2024-01-19", "strike": 10.001}))
	require.NoError(t, err)
	idB, err := spec.DeriveID(PayloadLookup(map[string]any{"symbol": "X", "expiration": "2024-01-19", "strike": 10.004}))
	require.NoError(t, err)
	assert.Equal(t, idA, idB, "two-decimal rounding folds both strikes into one id")
}

func TestIdentity_RawAndPayloadAgree(t *testing.T) {
	t.Parallel()

	spec := MustLookup(StrategyCSP)
	fromRow, err := spec.Identity(RowLookup(map[string]string{"symbol": " aapl ", "expiration": "01/19/2024", "strike": "182.50"}))
	require.NoError(t, err)
	fromPayload, err := spec.Identity(PayloadLookup(map[string]any{"symbol": "AAPL", "expiration": "2024-01-19", "strike": 182.5}))
	require.NoError(t, err)
	assert.Equal(t, "csp|AAPL|2024-01-19|182.5", fromRow)
	assert.Equal(t, fromRow, fromPayload)
}
