// Package monitor manages the lifecycle of open spread orders during the
// minutes after submission: reprice while the market is still engaged,
// cancel stale entries, and force stale exits to completion.
package monitor

import (
	"math"
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/models"
	"github.com/eddiefleurent/earnings_spread/internal/util"
)

// Policy holds the time-window and drift parameters of the lifecycle
// decision.
type Policy struct {
	// DriftThreshold is the relative price-drift fraction (e.g. 0.0005)
	// beyond which an early order is repriced.
	DriftThreshold float64
	// RepriceWindow ends the drift-driven reprice phase.
	RepriceWindow time.Duration
	// CancelWindow ends the cancel/discount phase.
	CancelWindow time.Duration
	// Window is the total monitoring window; past it the order is left
	// to day-order expiry.
	Window time.Duration
	// ExitDiscount is how far below market a late exit reprice lands,
	// in dollars.
	ExitDiscount float64
}

// DefaultPolicy matches the strategy's standard timings.
var DefaultPolicy = Policy{
	DriftThreshold: 0.0005,
	RepriceWindow:  10 * time.Minute,
	CancelWindow:   13 * time.Minute,
	Window:         models.MonitorWindow,
	ExitDiscount:   0.05,
}

// Decide returns the action for an open order given its trade type, the
// time elapsed since submission, and the current market price of the
// spread versus the working limit price. Evaluated in priority order:
//
//	elapsed < RepriceWindow:   reprice if the market drifted past the
//	                           threshold, otherwise hold;
//	elapsed < CancelWindow:    entries are cancelled (the edge is gone),
//	                           exits reprice at a discount to get filled;
//	elapsed >= CancelWindow:   exits convert to market, entries hold
//	                           (already cancelled in the prior phase).
func (p Policy) Decide(tradeType models.TradeType, elapsed time.Duration, marketPrice, limitPrice float64) models.Action {
	switch {
	case elapsed < p.RepriceWindow:
		if limitPrice > 0 && math.Abs(marketPrice-limitPrice)/limitPrice > p.DriftThreshold {
			return models.ActionReprice
		}
		return models.ActionHold

	case elapsed < p.CancelWindow:
		if tradeType == models.TradeEntry {
			return models.ActionCancel
		}
		return models.ActionReprice

	default:
		if tradeType == models.TradeExit {
			return models.ActionConvertToMarket
		}
		return models.ActionHold
	}
}

// RepriceTarget is the limit price a reprice lands on: the current market
// price early on, and the market price less the discount for late exits.
// Quote arithmetic carries float noise, so the result is snapped to the
// penny before it reaches an order.
func (p Policy) RepriceTarget(tradeType models.TradeType, elapsed time.Duration, marketPrice float64) float64 {
	if tradeType == models.TradeExit && elapsed >= p.RepriceWindow {
		return util.RoundToCents(math.Max(0, marketPrice-p.ExitDiscount))
	}
	return util.RoundToCents(marketPrice)
}
