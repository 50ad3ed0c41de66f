package screener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/broker"
	"github.com/eddiefleurent/earnings_spread/internal/calendar"
	"github.com/eddiefleurent/earnings_spread/internal/chains"
	"github.com/eddiefleurent/earnings_spread/internal/models"
	"github.com/eddiefleurent/earnings_spread/internal/storage"
)

const (
	// volumeLookbackDays is the calendar window behind the average daily
	// volume figure (roughly 30 trading days).
	volumeLookbackDays = 45
	// rvLookbackDays is the calendar window feeding the 30-trading-day
	// realized volatility estimate.
	rvLookbackDays = 60
	// minRVReturns is the fewest daily returns accepted for an RV estimate.
	minRVReturns = 15
	// tradingDaysPerYear annualizes daily return variance.
	tradingDaysPerYear = 252
)

// EarningsLookup is the slice of the calendar client the history screens
// need.
type EarningsLookup interface {
	GetEarnings(ctx context.Context, from, to time.Time) ([]calendar.EarningsEvent, error)
}

// MarketProvider implements Provider against the brokerage API, the
// earnings calendar, and stored IV history.
type MarketProvider struct {
	broker   broker.Broker
	earnings EarningsLookup
	store    storage.Interface
	selector *chains.Selector
	logger   *log.Logger
}

// Ensure MarketProvider implements Provider at compile time.
var _ Provider = (*MarketProvider)(nil)

// NewMarketProvider creates a broker-backed data provider.
func NewMarketProvider(b broker.Broker, earnings EarningsLookup, store storage.Interface, selector *chains.Selector, logger *log.Logger) *MarketProvider {
	if logger == nil {
		logger = log.Default()
	}
	return &MarketProvider{broker: b, earnings: earnings, store: store, selector: selector, logger: logger}
}

// StockStats fetches the last trade price and trailing average daily volume.
func (p *MarketProvider) StockStats(ctx context.Context, ticker string) (*StockStats, error) {
	snap, err := p.broker.GetStockSnapshot(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if snap.Price() <= 0 {
		return nil, fmt.Errorf("no trade price for %s", ticker)
	}

	end := time.Now().UTC()
	bars, err := p.broker.GetStockBars(ctx, ticker, end.AddDate(0, 0, -volumeLookbackDays), end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no daily bars for %s", ticker)
	}

	var total int64
	for _, b := range bars {
		total += b.Volume
	}

	return &StockStats{
		Price:          snap.Price(),
		AvgDailyVolume: total / int64(len(bars)),
	}, nil
}

// SpreadStats selects the calendar spread for the ticker and gathers its
// quotes and leg IVs. The near-leg IV is recorded to storage so future
// scans can screen vol-crush behavior.
func (p *MarketProvider) SpreadStats(ctx context.Context, ticker string, spot float64, scanDate time.Time) (*SpreadStats, error) {
	lookahead := scanDate.AddDate(0, 0, p.selector.LookaheadDays())
	contracts, err := p.broker.GetOptionChain(ctx, ticker, scanDate, lookahead, models.OptionCall)
	if err != nil {
		return nil, err
	}

	idx := chains.NewIndex(contracts)
	sel, err := p.selector.SelectSpread(ticker, spot, scanDate, idx)
	if err != nil {
		return nil, err
	}

	near, ok := idx.AtStrike(sel.NearExp, sel.Strike)
	if !ok {
		return nil, fmt.Errorf("near contract vanished for %s", ticker)
	}
	far, ok := idx.AtStrike(sel.FarExp, sel.Strike)
	if !ok {
		return nil, fmt.Errorf("far contract vanished for %s", ticker)
	}

	reading := models.IVReading{
		Symbol:    ticker,
		Date:      dateOnly(scanDate),
		IV:        near.IV,
		Timestamp: time.Now().UTC(),
	}
	if err := p.store.StoreIVReading(reading); err != nil {
		p.logger.Printf("Failed to store IV reading for %s: %v", ticker, err)
	}

	return &SpreadStats{
		Selection:  *sel,
		NearBid:    near.Bid,
		NearAsk:    near.Ask,
		FarBid:     far.Bid,
		FarAsk:     far.Ask,
		NearIV:     near.IV,
		FarIV:      far.IV,
		QuoteDepth: near.BidSize + near.AskSize,
		TradeCount: near.DayTradeCount,
	}, nil
}

// RealizedVol estimates annualized close-to-close volatility from up to 30
// trailing daily returns.
func (p *MarketProvider) RealizedVol(ctx context.Context, ticker string, asOf time.Time) (float64, error) {
	bars, err := p.broker.GetStockBars(ctx, ticker, asOf.AddDate(0, 0, -rvLookbackDays), asOf)
	if err != nil {
		return 0, err
	}

	var returns []float64
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close <= 0 || bars[i].Close <= 0 {
			continue
		}
		returns = append(returns, math.Log(bars[i].Close/bars[i-1].Close))
	}
	if len(returns) > 30 {
		returns = returns[len(returns)-30:]
	}
	if len(returns) < minRVReturns {
		return 0, fmt.Errorf("only %d daily returns for %s, need %d", len(returns), ticker, minRVReturns)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance * tradingDaysPerYear), nil
}

// EarningsHistory reconstructs past-report behavior: the absolute price
// move across each report from daily bars, and the post/pre IV ratio from
// stored readings. Reports the data cannot support are dropped rather
// than guessed.
func (p *MarketProvider) EarningsHistory(ctx context.Context, ticker string, asOf time.Time) (*EarningsHistory, error) {
	from := asOf.AddDate(-1, 0, 0)
	events, err := p.earnings.GetEarnings(ctx, from, asOf.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}

	var dates []time.Time
	for _, e := range events {
		if e.Symbol == ticker {
			dates = append(dates, dateOnly(e.Date))
		}
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("no past earnings dates for %s", ticker)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	bars, err := p.broker.GetStockBars(ctx, ticker, from.AddDate(0, 0, -7), asOf)
	if err != nil {
		return nil, err
	}
	closes := make([]broker.Bar, len(bars))
	copy(closes, bars)
	sort.Slice(closes, func(i, j int) bool { return closes[i].Date.Before(closes[j].Date) })

	history := &EarningsHistory{}
	for _, date := range dates {
		if move, ok := moveAcross(closes, date); ok {
			history.MovesPct = append(history.MovesPct, move)
		}
		if ratio, ok := p.crushRatio(ticker, date); ok {
			history.CrushRatios = append(history.CrushRatios, ratio)
		}
	}
	return history, nil
}

// moveAcross returns the absolute percent move from the last close at or
// before the report date to the first close after it.
func moveAcross(bars []broker.Bar, reportDate time.Time) (float64, bool) {
	var before, after *broker.Bar
	for i := range bars {
		b := &bars[i]
		day := dateOnly(b.Date)
		if !day.After(reportDate) {
			before = b
		} else if after == nil {
			after = b
			break
		}
	}
	if before == nil || after == nil || before.Close <= 0 {
		return 0, false
	}
	return math.Abs(after.Close/before.Close-1) * 100, true
}

// crushRatio divides the first IV reading after a report by the last one
// at or before it, using readings within a week on each side.
func (p *MarketProvider) crushRatio(ticker string, reportDate time.Time) (float64, bool) {
	readings, err := p.store.GetIVReadings(ticker, reportDate.AddDate(0, 0, -7), reportDate.AddDate(0, 0, 7))
	if err != nil {
		if !errors.Is(err, storage.ErrNoIVReadings) {
			p.logger.Printf("IV history lookup failed for %s: %v", ticker, err)
		}
		return 0, false
	}

	var pre, post *models.IVReading
	for i := range readings {
		r := &readings[i]
		if !dateOnly(r.Date).After(reportDate) {
			pre = r
		} else if post == nil {
			post = r
			break
		}
	}
	if pre == nil || post == nil || pre.IV <= 0 {
		return 0, false
	}
	return post.IV / pre.IV, true
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
