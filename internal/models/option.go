// Package models defines the core domain types for the earnings
// calendar-spread bot: option contracts, spread legs and orders, scan
// candidates, and monitored order records.
package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// OptionType identifies a contract as a call or a put.
type OptionType string

const (
	// OptionCall is a call contract.
	OptionCall OptionType = "call"
	// OptionPut is a put contract.
	OptionPut OptionType = "put"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	return t == OptionCall || t == OptionPut
}

// minOptionSymbolLen is the shortest well-formed OCC symbol:
// 6-digit expiration + type marker + 8-digit strike, with a non-empty root.
const minOptionSymbolLen = 15

// strikeEpsilon handles floating point precision when matching strikes
// encoded as thousandths of a dollar.
const strikeEpsilon = 1e-3

// Greeks holds per-contract greeks as reported by the data provider.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// OptionContract is an immutable snapshot of a single listed option taken
// at evaluation time. Quote and volume fields reflect the moment of the
// chain fetch and are never updated in place.
type OptionContract struct {
	Symbol        string     `json:"symbol"`
	Underlying    string     `json:"underlying"`
	Expiration    time.Time  `json:"expiration"`
	Strike        float64    `json:"strike"`
	Type          OptionType `json:"type"`
	Bid           float64    `json:"bid"`
	Ask           float64    `json:"ask"`
	BidSize       int        `json:"bid_size"`
	AskSize       int        `json:"ask_size"`
	IV            float64    `json:"iv,omitempty"`
	DayVolume     int64      `json:"day_volume,omitempty"`
	DayTradeCount int64      `json:"day_trade_count,omitempty"`
	Greeks        *Greeks    `json:"greeks,omitempty"`
}

// Spread returns the quoted bid-ask spread in dollars.
func (c *OptionContract) Spread() float64 {
	return c.Ask - c.Bid
}

// MatchesStrike reports whether the contract's strike equals s within the
// OCC thousandths encoding tolerance.
func (c *OptionContract) MatchesStrike(s float64) bool {
	return math.Abs(c.Strike-s) < strikeEpsilon
}

// ParseOptionSymbol decodes an OCC-style option symbol:
// UNDERLYING + YYMMDD + C|P + 8-digit strike in thousandths of a dollar,
// e.g. "XYZ260320C00100000" -> XYZ, 2026-03-20, call, 100.00.
// Symbols shorter than 15 characters or without a C/P marker in the
// expected position fail with an error, never a silent default.
func ParseOptionSymbol(symbol string) (underlying string, expiration time.Time, typ OptionType, strike float64, err error) {
	if len(symbol) < minOptionSymbolLen {
		err = fmt.Errorf("option symbol too short: %q", symbol)
		return
	}

	// Decode from the end: the last 8 chars are the strike, preceded by
	// the type marker, preceded by the 6-digit expiration.
	strikeStr := symbol[len(symbol)-8:]
	strikeInt, perr := strconv.ParseInt(strikeStr, 10, 64)
	if perr != nil {
		err = fmt.Errorf("invalid strike digits in option symbol %q: %w", symbol, perr)
		return
	}

	markerIdx := len(symbol) - 9
	switch symbol[markerIdx] {
	case 'C':
		typ = OptionCall
	case 'P':
		typ = OptionPut
	default:
		err = fmt.Errorf("no C/P type marker in option symbol %q", symbol)
		return
	}

	expStart := markerIdx - 6
	expiration, perr = time.Parse("060102", symbol[expStart:markerIdx])
	if perr != nil {
		err = fmt.Errorf("invalid expiration in option symbol %q: %w", symbol, perr)
		return
	}

	underlying = symbol[:expStart]
	if underlying == "" {
		err = fmt.Errorf("empty underlying in option symbol %q", symbol)
		return
	}

	strike = float64(strikeInt) / 1000.0
	return
}

// FormatOptionSymbol encodes an OCC-style option symbol. The strike is
// rounded to the nearest thousandth of a dollar; the eps guard keeps
// values like 99.9999999 from truncating a tick low.
func FormatOptionSymbol(underlying string, expiration time.Time, typ OptionType, strike float64) string {
	const eps = 1e-9
	strikeInt := int(math.Round(strike*1000 + eps))

	marker := "C"
	if typ == OptionPut {
		marker = "P"
	}

	return fmt.Sprintf("%s%s%s%08d", underlying, expiration.Format("060102"), marker, strikeInt)
}

// OptionExpiration is a convenience wrapper returning only the expiration
// encoded in an OCC symbol.
func OptionExpiration(symbol string) (time.Time, error) {
	_, exp, _, _, err := ParseOptionSymbol(symbol)
	return exp, err
}
