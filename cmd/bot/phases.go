package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/broker"
	"github.com/eddiefleurent/earnings_spread/internal/chains"
	"github.com/eddiefleurent/earnings_spread/internal/models"
	"github.com/eddiefleurent/earnings_spread/internal/util"
)

// runScan screens tonight's earnings universe and persists the allocated
// candidate set for the trade phase.
func (a *App) runScan(ctx context.Context, scanDate time.Time) PhaseResult {
	dateStr := scanDate.Format("2006-01-02")

	if err := a.storage.Reset(dateStr); err != nil {
		a.logger.Printf("Failed to clear prior-day state: %v", err)
	}

	tickers, err := a.earnings.ScanUniverse(ctx, scanDate)
	if err != nil {
		return PhaseResult{Status: statusSkipped, Reason: fmt.Sprintf("earnings calendar unavailable: %v", err)}
	}
	if len(tickers) == 0 {
		return PhaseResult{Status: statusSuccess, Reason: "no earnings tonight", Counts: map[string]int{"tickers": 0}}
	}

	candidates, err := a.newScanner().Scan(ctx, tickers, scanDate)
	if err != nil {
		return PhaseResult{Status: statusError, Reason: err.Error()}
	}

	approved := 0
	for _, c := range candidates {
		if c.Approved {
			approved++
		}
		if err := a.storage.SaveCandidate(c); err != nil {
			return PhaseResult{Status: statusError, Reason: fmt.Sprintf("saving candidate %s: %v", c.Ticker, err)}
		}
	}

	a.logger.Printf("Scan complete: %d tickers, %d approved", len(tickers), approved)
	return PhaseResult{Status: statusSuccess, Counts: map[string]int{
		"tickers":  len(tickers),
		"screened": len(candidates),
		"approved": approved,
	}}
}

// runTrade unwinds held calendar pairs from prior earnings plays, then
// opens spreads for today's approved candidates. An insufficient-funds
// rejection halts the remaining submission batch.
func (a *App) runTrade(ctx context.Context, scanDate time.Time) PhaseResult {
	equity, err := a.broker.GetAccountEquity(ctx)
	if err != nil {
		return PhaseResult{Status: statusSkipped, Reason: fmt.Sprintf("account unavailable: %v", err)}
	}

	positions, err := a.broker.GetOpenPositions(ctx)
	if err != nil {
		return PhaseResult{Status: statusSkipped, Reason: fmt.Sprintf("positions unavailable: %v", err)}
	}
	longLots := broker.LongOptionLots(positions)

	counts := map[string]int{"exits": 0, "entries": 0, "skipped": 0}

	halted := a.submitExits(ctx, positions, longLots, counts)
	if !halted {
		halted = a.submitEntries(ctx, scanDate, equity, counts)
	}

	result := PhaseResult{Status: statusSuccess, Counts: counts}
	if halted {
		result.Reason = "insufficient funds, remaining batch halted"
	}
	return result
}

// runMonitor performs one lifecycle tick over tracked orders.
func (a *App) runMonitor(ctx context.Context, _ time.Time) PhaseResult {
	res, err := a.newMonitor().RunOnce(ctx, time.Now())
	if err != nil {
		return PhaseResult{Status: statusSkipped, Reason: err.Error()}
	}
	return PhaseResult{Status: statusSuccess, Counts: map[string]int{
		"checked":   res.Checked,
		"repriced":  res.Repriced,
		"cancelled": res.Cancelled,
		"converted": res.Converted,
		"settled":   res.Settled,
		"expired":   res.Expired,
	}}
}

// optionTick is the limit-price increment for the contracts traded here.
const optionTick = 0.01

// entryLimit snaps an entry debit up to the tick grid so the limit stays
// marketable after rounding.
func entryLimit(debit float64) float64 {
	return util.CeilToTick(debit, optionTick)
}

// exitLimit snaps an exit credit down to the tick grid so the limit never
// asks for more than the market shows.
func exitLimit(credit float64) float64 {
	return util.FloorToTick(credit, optionTick)
}

// heldPair is a calendar spread currently on the book: short near leg,
// long far leg, same underlying/type/strike.
type heldPair struct {
	underlying string
	nearSymbol string
	farSymbol  string
	quantity   int
}

// submitExits closes every held calendar pair. The strategy only holds
// through a single earnings report, so any pair on the book is a finished
// play waiting to be unwound. Returns true when the batch was halted.
func (a *App) submitExits(ctx context.Context, positions []broker.Position, longLots map[string]int, counts map[string]int) bool {
	for _, pair := range findHeldPairs(positions, a.logger.Printf) {
		quotes, err := a.broker.GetLatestOptionQuotes(ctx, []string{pair.nearSymbol, pair.farSymbol})
		if err != nil {
			a.logger.Printf("Skipping exit for %s: quotes unavailable: %v", pair.underlying, err)
			counts["skipped"]++
			continue
		}
		near, far := quotes[pair.nearSymbol], quotes[pair.farSymbol]

		limit := exitLimit(chains.Credit(near.Bid, far.Ask))
		if limit <= 0 {
			a.logger.Printf("Skipping exit for %s: no tradeable credit", pair.underlying)
			counts["skipped"]++
			continue
		}

		order := models.SpreadOrder{
			Underlying: pair.underlying,
			Quantity:   pair.quantity,
			LimitPrice: limit,
			Legs: []models.SpreadLeg{
				{Symbol: pair.nearSymbol, Side: models.LegBuy, RatioQty: 1, Intent: models.IntentBuyToClose},
				{Symbol: pair.farSymbol, Side: models.LegSell, RatioQty: 1, Intent: models.IntentSellToClose},
			},
		}
		if err := order.Validate(); err != nil {
			a.logger.Printf("Skipping exit for %s: %v", pair.underlying, err)
			counts["skipped"]++
			continue
		}
		if err := models.CheckCoveredShorts(order.Legs, longLots); err != nil {
			a.logger.Printf("Rejecting exit for %s: %v", pair.underlying, err)
			counts["skipped"]++
			continue
		}

		if halted := a.submitAndTrack(ctx, order, models.TradeExit, counts, "exits"); halted {
			return true
		}
	}
	return false
}

// submitEntries opens a spread for each approved candidate within its
// allocated slice of equity. The covered-short invariant applies to exits
// only; an entry's short near leg is covered by the far leg bought in the
// same atomic order. Returns true when the batch was halted.
func (a *App) submitEntries(ctx context.Context, scanDate time.Time, equity float64, counts map[string]int) bool {
	approved := a.storage.ApprovedCandidates(scanDate.Format("2006-01-02"))
	for _, cand := range approved {
		order, err := a.buildEntryOrder(ctx, cand.Ticker, scanDate, equity*cand.PositionSizePct/100)
		if err != nil {
			a.logger.Printf("Skipping entry for %s: %v", cand.Ticker, err)
			counts["skipped"]++
			continue
		}
		if order == nil {
			// Budget too small for one spread; expected, not an error.
			counts["skipped"]++
			continue
		}

		if halted := a.submitAndTrack(ctx, *order, models.TradeEntry, counts, "entries"); halted {
			return true
		}
	}
	return false
}

// buildEntryOrder constructs the calendar-spread entry for a ticker. A nil
// order with nil error means the budget affords no spread.
func (a *App) buildEntryOrder(ctx context.Context, ticker string, scanDate time.Time, budget float64) (*models.SpreadOrder, error) {
	snap, err := a.broker.GetStockSnapshot(ctx, ticker)
	if err != nil {
		return nil, err
	}

	lookahead := scanDate.AddDate(0, 0, a.cfg.Spread.LookaheadDays)
	contracts, err := a.broker.GetOptionChain(ctx, ticker, scanDate, lookahead, models.OptionCall)
	if err != nil {
		return nil, err
	}

	idx := chains.NewIndex(contracts)
	sel, err := a.selector.SelectSpread(ticker, snap.Price(), scanDate, idx)
	if err != nil {
		return nil, err
	}

	near, _ := idx.AtStrike(sel.NearExp, sel.Strike)
	far, _ := idx.AtStrike(sel.FarExp, sel.Strike)

	debit := chains.Debit(far.Ask, near.Bid)
	if debit <= 0 {
		return nil, fmt.Errorf("no tradeable debit")
	}

	qty := chains.SizeOrder(debit, budget, a.cfg.Spread.ContractMultiplier)
	if qty < 1 {
		a.logger.Printf("Budget $%.2f affords no %s spread at debit %.2f", budget, ticker, debit)
		return nil, nil
	}

	order := models.SpreadOrder{
		Underlying: ticker,
		Quantity:   qty,
		LimitPrice: entryLimit(debit),
		Legs: []models.SpreadLeg{
			{Symbol: sel.NearSymbol, Side: models.LegSell, RatioQty: 1, Intent: models.IntentSellToOpen},
			{Symbol: sel.FarSymbol, Side: models.LegBuy, RatioQty: 1, Intent: models.IntentBuyToOpen},
		},
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return &order, nil
}

// submitAndTrack places the order and records it for the monitor. Returns
// true when an insufficient-funds rejection should halt the batch.
func (a *App) submitAndTrack(ctx context.Context, order models.SpreadOrder, tradeType models.TradeType, counts map[string]int, key string) bool {
	placed, err := a.broker.SubmitSpreadOrder(ctx, order, broker.OrderTypeLimit)
	if err != nil {
		if errors.Is(err, broker.ErrInsufficientFunds) {
			a.logger.Printf("Halting batch: %v", err)
			return true
		}
		a.logger.Printf("Submission failed for %s: %v", order.Underlying, err)
		counts["skipped"]++
		return false
	}

	submittedAt := placed.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}
	tracked := models.MonitoredOrder{
		OrderID:     placed.ID,
		Ticker:      order.Underlying,
		TradeType:   tradeType,
		Legs:        order.Legs,
		SubmittedAt: submittedAt,
		LimitPrice:  order.LimitPrice,
	}
	if err := a.storage.SaveTrackedOrder(tracked); err != nil {
		a.logger.Printf("Failed to track order %s: %v", placed.ID, err)
	}

	counts[key]++
	a.logger.Printf("Submitted %s order %s for %s: %d spread(s) at %.2f",
		tradeType, placed.ID, order.Underlying, order.Quantity, order.LimitPrice)
	return false
}

// findHeldPairs matches long and short option positions into calendar
// pairs by (underlying, type, strike).
func findHeldPairs(positions []broker.Position, logf func(string, ...interface{})) []heldPair {
	type legInfo struct {
		symbol     string
		expiration time.Time
		qty        int
	}
	type bucket struct {
		longs  []legInfo
		shorts []legInfo
	}
	buckets := make(map[string]*bucket)

	for i := range positions {
		p := &positions[i]
		if p.AssetClass != "us_option" {
			continue
		}
		underlying, exp, typ, strike, err := models.ParseOptionSymbol(p.Symbol)
		if err != nil {
			logf("Ignoring unparseable position symbol %q: %v", p.Symbol, err)
			continue
		}
		qty := int(p.Quantity())
		if qty < 0 {
			qty = -qty
		}
		if qty == 0 {
			continue
		}

		key := fmt.Sprintf("%s|%s|%.3f", underlying, typ, strike)
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		info := legInfo{symbol: p.Symbol, expiration: exp, qty: qty}
		if p.Side == "short" {
			b.shorts = append(b.shorts, info)
		} else {
			b.longs = append(b.longs, info)
		}
	}

	var pairs []heldPair
	for _, b := range buckets {
		for _, short := range b.shorts {
			for _, long := range b.longs {
				if short.expiration.Equal(long.expiration) || short.expiration.After(long.expiration) {
					continue
				}
				qty := short.qty
				if long.qty < qty {
					qty = long.qty
				}
				underlying, _, _, _, _ := models.ParseOptionSymbol(short.symbol)
				pairs = append(pairs, heldPair{
					underlying: underlying,
					nearSymbol: short.symbol,
					farSymbol:  long.symbol,
					quantity:   qty,
				})
				break
			}
		}
	}
	return pairs
}
