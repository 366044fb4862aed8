package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"1,234.5", 1234.5, false},
		{"$12.10", 12.10, false},
		{"+0.35", 0.35, false},
		{"-0.42", -0.42, false},
		{"12%", 12, false},
		{"abc", 0, true},
		{"NaN", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseNumber(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSchemaInvalid)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParsePercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{"45%", 0.45},
		{"45", 0.45},
		{"0.45", 0.45},
		{"1.2%", 0.012},
		{"1.2", 1.2},
		{"-3.5%", -0.035},
	}
	for _, tt := range tests {
		got, err := ParsePercent(tt.in)
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}

func TestParseInt(t *testing.T) {
	t.Parallel()

	v, err := ParseInt("1,200")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), v)

	_, err = ParseInt("12.5")
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-01-19", "01/19/2024", "1/19/2024", "01/19/24", "2024-01-19 (w)", "Jan 19, 2024"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}

	_, err := ParseDate("next friday")
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 1, 19, 14, 30, 0, 0, time.UTC)
	for _, in := range []string{"2024-01-19T14:30:00Z", "2024-01-19 14:30:00Z", "2024-01-19T08:30:00-06:00", "2024-01-19 14:30:00"} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}
}

func TestIsBlank(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  ", "N/A", "--", "unch", "NaN"} {
		assert.True(t, IsBlank(in), in)
	}
	assert.False(t, IsBlank("0"))
}

func TestStringify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "45", Stringify(45.0))
	assert.Equal(t, "45.5", Stringify(45.5))
	assert.Equal(t, "7", Stringify(int64(7)))
	assert.Equal(t, "x", Stringify("x"))
	assert.Equal(t, "", Stringify(nil))
}
