package chains

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Selection errors. Both mean the ticker is skipped, not that the scan
// fails.
var (
	ErrNoExpirations  = errors.New("no usable expirations in window")
	ErrNoCommonStrike = errors.New("no strike listed on both expirations")
)

// Selection identifies the two legs of a calendar spread.
type Selection struct {
	Ticker     string
	NearSymbol string
	FarSymbol  string
	NearExp    time.Time
	FarExp     time.Time
	Strike     float64
}

// SelectorConfig bounds the expiration search.
type SelectorConfig struct {
	LookaheadDays int // outer edge of the expiration window
	TargetFarDTE  int // ideal distance of the far leg from today
}

// Selector picks near/far expirations and the shared ATM strike.
type Selector struct {
	cfg SelectorConfig
}

// NewSelector creates a Selector. Zero config fields fall back to a 60-day
// window with a 30-day far target.
func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = 60
	}
	if cfg.TargetFarDTE <= 0 {
		cfg.TargetFarDTE = 30
	}
	return &Selector{cfg: cfg}
}

// LookaheadDays returns the outer edge of the expiration window, which is
// also how far out callers should fetch the option chain.
func (s *Selector) LookaheadDays() int {
	return s.cfg.LookaheadDays
}

// SelectSpread picks the calendar spread for a ticker: the near leg is the
// earliest expiration strictly after today, the far leg the expiration
// after it closest to today+TargetFarDTE (ties resolve to the earlier
// date), and the strike is the one nearest spot listed on both
// expirations (ties resolve to the lower strike).
func (s *Selector) SelectSpread(ticker string, spot float64, today time.Time, idx *Index) (*Selection, error) {
	if spot <= 0 {
		return nil, fmt.Errorf("invalid spot price %.2f for %s", spot, ticker)
	}

	today = dateOnly(today)
	outer := today.AddDate(0, 0, s.cfg.LookaheadDays)

	var inWindow []time.Time
	for _, exp := range idx.Expirations() {
		if exp.After(today) && !exp.After(outer) {
			inWindow = append(inWindow, exp)
		}
	}
	if len(inWindow) < 2 {
		return nil, fmt.Errorf("%s: %w", ticker, ErrNoExpirations)
	}

	nearExp := inWindow[0]
	target := today.AddDate(0, 0, s.cfg.TargetFarDTE)

	farExp := inWindow[1]
	best := absDuration(farExp.Sub(target))
	for _, exp := range inWindow[2:] {
		if d := absDuration(exp.Sub(target)); d < best {
			farExp = exp
			best = d
		}
	}

	strike, ok := s.atmCommonStrike(spot, nearExp, farExp, idx)
	if !ok {
		return nil, fmt.Errorf("%s: %w", ticker, ErrNoCommonStrike)
	}

	near, _ := idx.AtStrike(nearExp, strike)
	far, _ := idx.AtStrike(farExp, strike)

	return &Selection{
		Ticker:     ticker,
		NearSymbol: near.Symbol,
		FarSymbol:  far.Symbol,
		NearExp:    nearExp,
		FarExp:     farExp,
		Strike:     strike,
	}, nil
}

// atmCommonStrike returns the strike closest to spot among those listed on
// both expirations. Equidistant strikes resolve to the lower one.
func (s *Selector) atmCommonStrike(spot float64, nearExp, farExp time.Time, idx *Index) (float64, bool) {
	farStrikes := idx.Strikes(farExp)

	bestStrike := 0.0
	bestDist := math.Inf(1)
	found := false

	for _, strike := range idx.Strikes(nearExp) {
		if !containsStrike(farStrikes, strike) {
			continue
		}
		dist := math.Abs(strike - spot)
		if !found || dist < bestDist-strikeTolerance {
			bestStrike = strike
			bestDist = dist
			found = true
		}
		// Ascending iteration keeps the lower strike on exact ties.
	}
	return bestStrike, found
}

func containsStrike(sorted []float64, strike float64) bool {
	for _, s := range sorted {
		if diff := s - strike; diff > -strikeTolerance && diff < strikeTolerance {
			return true
		}
		if s > strike+strikeTolerance {
			return false
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Debit is the net cost of opening the spread: buy the far leg at the ask,
// sell the near leg at the bid. Clamped at zero; a zero debit means the
// quotes are unusable and the caller aborts.
func Debit(farAsk, nearBid float64) float64 {
	return math.Max(0, farAsk-nearBid)
}

// Credit is the net proceeds of closing the spread. Clamped at zero; a
// zero credit means the quotes are unusable and the caller aborts.
func Credit(nearBid, farAsk float64) float64 {
	return math.Max(0, nearBid-farAsk)
}

// SizeOrder returns how many spreads a budget affords at the given debit.
// A result below 1 means the ticker is skipped.
func SizeOrder(debit, budget float64, multiplier int) int {
	if debit <= 0 || budget <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 100
	}
	return int(math.Floor(budget / (debit * float64(multiplier))))
}
