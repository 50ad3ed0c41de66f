// Package screener implements the gatekeeper filter pipeline that decides
// which earnings tickers are tradeable and how much of the account each
// may consume.
package screener

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/chains"
	"github.com/eddiefleurent/earnings_spread/internal/config"
	"github.com/eddiefleurent/earnings_spread/internal/models"
)

// Filter names recorded in Candidate.FilterResults. The first four are
// gatekeepers: failing any one rejects the ticker. The last two are
// optional and only add position size.
const (
	FilterLiquidity     = "liquidity"
	FilterIVRVRatio     = "iv_rv_ratio"
	FilterTermSlope     = "term_slope"
	FilterExecSpread    = "execution_spread"
	FilterMoveStability = "move_stability"
	FilterVolCrush      = "vol_crush"
)

// StockStats is the underlying-level data the liquidity screen consumes.
type StockStats struct {
	Price          float64
	AvgDailyVolume int64
}

// SpreadStats describes the calendar spread a ticker would trade, with the
// quote and volatility data the option-level screens consume.
type SpreadStats struct {
	Selection chains.Selection
	NearBid   float64
	NearAsk   float64
	FarBid    float64
	FarAsk    float64
	NearIV    float64
	FarIV     float64
	// QuoteDepth and TradeCount describe the near ATM contract.
	QuoteDepth int
	TradeCount int64
}

// EarningsHistory holds per-past-earnings-date observations for the
// optional screens. Entries the data could not support are simply absent.
type EarningsHistory struct {
	MovesPct    []float64 // absolute close-to-close move across each report, percent
	CrushRatios []float64 // post-report IV / pre-report IV
}

// Provider supplies the market data the pipeline screens against. Methods
// are called lazily so a failed gatekeeper costs no further API calls.
type Provider interface {
	StockStats(ctx context.Context, ticker string) (*StockStats, error)
	SpreadStats(ctx context.Context, ticker string, spot float64, scanDate time.Time) (*SpreadStats, error)
	RealizedVol(ctx context.Context, ticker string, asOf time.Time) (float64, error)
	EarningsHistory(ctx context.Context, ticker string, asOf time.Time) (*EarningsHistory, error)
}

// Pipeline evaluates one ticker against the configured screens.
type Pipeline struct {
	provider Provider
	cfg      config.ScreenerConfig
	alloc    config.AllocationConfig
	logger   *log.Logger
}

// NewPipeline creates a filter pipeline.
func NewPipeline(provider Provider, cfg config.ScreenerConfig, alloc config.AllocationConfig, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{provider: provider, cfg: cfg, alloc: alloc, logger: logger}
}

// Evaluate runs the gatekeeper screens in order, short-circuiting on the
// first failure, then the optional screens. The returned candidate is
// rejected (not an error) when a gatekeeper fails; errors mean the data
// needed to decide was unavailable.
func (p *Pipeline) Evaluate(ctx context.Context, ticker string, scanDate time.Time) (models.Candidate, error) {
	cand := models.Candidate{
		Ticker:        ticker,
		ScanDate:      scanDate.Format("2006-01-02"),
		FilterResults: make(map[string]bool),
	}

	stock, err := p.provider.StockStats(ctx, ticker)
	if err != nil {
		return cand, fmt.Errorf("stock stats for %s: %w", ticker, err)
	}

	// Underlying-level liquidity: cheap, checked before touching the chain.
	if stock.AvgDailyVolume < p.cfg.MinAvgDailyVolume ||
		stock.Price < p.cfg.MinSharePrice || stock.Price > p.cfg.MaxSharePrice {
		return reject(cand, FilterLiquidity), nil
	}

	spread, err := p.provider.SpreadStats(ctx, ticker, stock.Price, scanDate)
	if err != nil {
		return cand, fmt.Errorf("spread stats for %s: %w", ticker, err)
	}

	// Option-level liquidity on the near ATM contract.
	nearWidth := spread.NearAsk - spread.NearBid
	farWidth := spread.FarAsk - spread.FarBid
	if nearWidth > p.cfg.MaxOptionSpread || farWidth > p.cfg.MaxOptionSpread ||
		spread.QuoteDepth < p.cfg.MinQuoteDepth || spread.TradeCount < p.cfg.MinOptionTrades {
		return reject(cand, FilterLiquidity), nil
	}
	cand.FilterResults[FilterLiquidity] = true

	rv, err := p.provider.RealizedVol(ctx, ticker, scanDate)
	if err != nil {
		return cand, fmt.Errorf("realized vol for %s: %w", ticker, err)
	}
	if rv <= 0 || spread.FarIV/rv < p.cfg.MinIVRVRatio {
		return reject(cand, FilterIVRVRatio), nil
	}
	cand.FilterResults[FilterIVRVRatio] = true

	// Backwardated term structure: the near leg must carry the vol premium.
	if spread.NearIV-spread.FarIV < p.cfg.MinTermSlope {
		return reject(cand, FilterTermSlope), nil
	}
	cand.FilterResults[FilterTermSlope] = true

	debit := chains.Debit(spread.FarAsk, spread.NearBid)
	if debit <= 0 || debit/stock.Price*100 > p.cfg.MaxDebitToPricePct {
		return reject(cand, FilterExecSpread), nil
	}
	cand.FilterResults[FilterExecSpread] = true

	cand.Approved = true
	cand.PositionSizePct = p.alloc.BaseSizePct
	p.applyBonusFilters(ctx, &cand, scanDate)

	if cand.PositionSizePct > p.alloc.MaxSizePct {
		cand.PositionSizePct = p.alloc.MaxSizePct
	}
	return cand, nil
}

// applyBonusFilters runs the optional history screens. History gaps are
// logged and treated as a non-pass, never as a rejection.
func (p *Pipeline) applyBonusFilters(ctx context.Context, cand *models.Candidate, scanDate time.Time) {
	history, err := p.provider.EarningsHistory(ctx, cand.Ticker, scanDate)
	if err != nil {
		p.logger.Printf("No earnings history for %s, skipping bonus filters: %v", cand.Ticker, err)
		cand.FilterResults[FilterMoveStability] = false
		cand.FilterResults[FilterVolCrush] = false
		return
	}

	stable := shareBelow(history.MovesPct, p.cfg.MoveThresholdPct)
	cand.FilterResults[FilterMoveStability] = len(history.MovesPct) > 0 && stable >= p.cfg.MinStableMovePct
	if cand.FilterResults[FilterMoveStability] {
		cand.PositionSizePct += p.alloc.BonusSizePct
	}

	crushed := shareBelow(history.CrushRatios, p.cfg.CrushRatio)
	cand.FilterResults[FilterVolCrush] = len(history.CrushRatios) > 0 && crushed >= p.cfg.MinCrushFreqPct
	if cand.FilterResults[FilterVolCrush] {
		cand.PositionSizePct += p.alloc.BonusSizePct
	}
}

// shareBelow returns the percentage of values at or below the threshold.
func shareBelow(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	below := 0
	for _, v := range values {
		if v <= threshold {
			below++
		}
	}
	return float64(below) / float64(len(values)) * 100
}

func reject(cand models.Candidate, filter string) models.Candidate {
	cand.FilterResults[filter] = false
	cand.Approved = false
	cand.Reason = filter
	return cand
}
