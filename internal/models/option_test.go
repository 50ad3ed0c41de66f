package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionSymbolRoundTrip(t *testing.T) {
	cases := []struct {
		underlying string
		expiration time.Time
		typ        OptionType
		strike     float64
	}{
		{"XYZ", time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), OptionCall, 100},
		{"A", time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC), OptionPut, 7.5},
		{"SPXW", time.Date(2027, 12, 17, 0, 0, 0, 0, time.UTC), OptionCall, 4350.125},
		{"BRKB", time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC), OptionPut, 0.5},
	}

	for _, tc := range cases {
		symbol := FormatOptionSymbol(tc.underlying, tc.expiration, tc.typ, tc.strike)
		underlying, exp, typ, strike, err := ParseOptionSymbol(symbol)
		require.NoError(t, err, "symbol %s", symbol)
		assert.Equal(t, tc.underlying, underlying)
		assert.True(t, exp.Equal(tc.expiration), "expiration mismatch for %s", symbol)
		assert.Equal(t, tc.typ, typ)
		assert.InDelta(t, tc.strike, strike, strikeEpsilon)
	}
}

func TestParseOptionSymbolKnownEncoding(t *testing.T) {
	underlying, exp, typ, strike, err := ParseOptionSymbol("XYZ260320C00100000")
	require.NoError(t, err)
	assert.Equal(t, "XYZ", underlying)
	assert.Equal(t, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), exp)
	assert.Equal(t, OptionCall, typ)
	assert.InDelta(t, 100.0, strike, strikeEpsilon)
}

func TestParseOptionSymbolRejectsMalformed(t *testing.T) {
	cases := []struct {
		name   string
		symbol string
	}{
		{"too short", "XYZ260320C001"},
		{"empty", ""},
		{"no type marker", "XYZ260320X00100000"},
		{"digits where marker expected", "XYZ2603200001000001"},
		{"bad expiration", "XYZ26AB20C00100000"},
		{"bad strike digits", "XYZ260320C0010000Z"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, _, err := ParseOptionSymbol(tc.symbol)
			assert.Error(t, err, "symbol %q should not parse", tc.symbol)
		})
	}
}

func TestFormatOptionSymbolRounding(t *testing.T) {
	exp := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	// 99.9999999 must not truncate a tick low.
	assert.Equal(t, "XYZ260320C00100000", FormatOptionSymbol("XYZ", exp, OptionCall, 99.9999999))
	assert.Equal(t, "XYZ260320P00007500", FormatOptionSymbol("XYZ", exp, OptionPut, 7.5))
}

func TestOptionContractHelpers(t *testing.T) {
	c := OptionContract{Strike: 100, Bid: 2.0, Ask: 2.2}
	assert.InDelta(t, 0.2, c.Spread(), 1e-9)
	assert.True(t, c.MatchesStrike(100.0004))
	assert.False(t, c.MatchesStrike(100.5))
}
