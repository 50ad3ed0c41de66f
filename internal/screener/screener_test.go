package screener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/earnings_spread/internal/config"
)

var scanDate = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// stubProvider serves canned data and counts calls so tests can assert
// the pipeline short-circuits.
type stubProvider struct {
	stock   *StockStats
	spread  *SpreadStats
	rv      float64
	history *EarningsHistory

	stockErr   error
	spreadErr  error
	rvErr      error
	historyErr error

	spreadCalls  int
	rvCalls      int
	historyCalls int
}

func (s *stubProvider) StockStats(context.Context, string) (*StockStats, error) {
	return s.stock, s.stockErr
}

func (s *stubProvider) SpreadStats(context.Context, string, float64, time.Time) (*SpreadStats, error) {
	s.spreadCalls++
	return s.spread, s.spreadErr
}

func (s *stubProvider) RealizedVol(context.Context, string, time.Time) (float64, error) {
	s.rvCalls++
	return s.rv, s.rvErr
}

func (s *stubProvider) EarningsHistory(context.Context, string, time.Time) (*EarningsHistory, error) {
	s.historyCalls++
	return s.history, s.historyErr
}

func screenerConfig() config.ScreenerConfig {
	return config.ScreenerConfig{
		MinAvgDailyVolume:  1_000_000,
		MinSharePrice:      10,
		MaxSharePrice:      500,
		MaxOptionSpread:    0.30,
		MinQuoteDepth:      10,
		MinOptionTrades:    100,
		MinIVRVRatio:       1.25,
		MinTermSlope:       0.05,
		MaxDebitToPricePct: 2.0,
		MoveThresholdPct:   5.0,
		MinStableMovePct:   75.0,
		CrushRatio:         0.7,
		MinCrushFreqPct:    75.0,
	}
}

func allocConfig() config.AllocationConfig {
	return config.AllocationConfig{
		BaseSizePct:     3.0,
		BonusSizePct:    1.0,
		MaxSizePct:      6.0,
		PortfolioCapPct: 15.0,
	}
}

// passingProvider returns data that clears every screen.
func passingProvider() *stubProvider {
	return &stubProvider{
		stock: &StockStats{Price: 100, AvgDailyVolume: 5_000_000},
		spread: &SpreadStats{
			NearBid: 2.00, NearAsk: 2.20,
			FarBid: 3.00, FarAsk: 3.20,
			NearIV: 0.60, FarIV: 0.45,
			QuoteDepth: 40, TradeCount: 500,
		},
		rv: 0.30, // FarIV/rv = 1.5
		history: &EarningsHistory{
			MovesPct:    []float64{2.0, 3.5, 4.0, 6.5}, // 75% under 5%
			CrushRatios: []float64{0.55, 0.65, 0.60, 0.80},
		},
	}
}

func TestEvaluateApprovesWithBonuses(t *testing.T) {
	provider := passingProvider()
	p := NewPipeline(provider, screenerConfig(), allocConfig(), nil)

	cand, err := p.Evaluate(context.Background(), "XYZ", scanDate)
	require.NoError(t, err)

	assert.True(t, cand.Approved)
	assert.Empty(t, cand.Reason)
	assert.Equal(t, "2026-03-02", cand.ScanDate)
	for _, f := range []string{FilterLiquidity, FilterIVRVRatio, FilterTermSlope, FilterExecSpread, FilterMoveStability, FilterVolCrush} {
		assert.True(t, cand.FilterResults[f], f)
	}
	// base 3 + two bonuses
	assert.InDelta(t, 5.0, cand.PositionSizePct, 1e-9)
}

func TestEvaluateCapsPositionSize(t *testing.T) {
	alloc := allocConfig()
	alloc.BonusSizePct = 2.5 // base 3 + 5 would exceed the 6% cap

	p := NewPipeline(passingProvider(), screenerConfig(), alloc, nil)
	cand, err := p.Evaluate(context.Background(), "XYZ", scanDate)
	require.NoError(t, err)
	assert.InDelta(t, alloc.MaxSizePct, cand.PositionSizePct, 1e-9)
}

func TestEvaluateShortCircuitsOnStockLiquidity(t *testing.T) {
	provider := passingProvider()
	provider.stock.AvgDailyVolume = 1000

	p := NewPipeline(provider, screenerConfig(), allocConfig(), nil)
	cand, err := p.Evaluate(context.Background(), "XYZ", scanDate)
	require.NoError(t, err)

	assert.False(t, cand.Approved)
	assert.Equal(t, FilterLiquidity, cand.Reason)
	assert.False(t, cand.FilterResults[FilterLiquidity])
	assert.Zero(t, provider.spreadCalls, "failed gatekeeper must stop further data fetches")
	assert.Zero(t, provider.rvCalls)
	assert.Zero(t, provider.historyCalls)
}

func TestEvaluateGatekeeperRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*stubProvider)
		reason string
	}{
		{
			name:   "price outside band",
			mutate: func(s *stubProvider) { s.stock.Price = 600 },
			reason: FilterLiquidity,
		},
		{
			name:   "option spread too wide",
			mutate: func(s *stubProvider) { s.spread.NearAsk = 2.60 },
			reason: FilterLiquidity,
		},
		{
			name:   "thin quote depth",
			mutate: func(s *stubProvider) { s.spread.QuoteDepth = 2 },
			reason: FilterLiquidity,
		},
		{
			name:   "iv not elevated over realized",
			mutate: func(s *stubProvider) { s.rv = 0.44 },
			reason: FilterIVRVRatio,
		},
		{
			name:   "flat term structure",
			mutate: func(s *stubProvider) { s.spread.NearIV = 0.46 },
			reason: FilterTermSlope,
		},
		{
			name: "debit too large relative to spot",
			mutate: func(s *stubProvider) {
				s.spread.FarAsk = 5.00
				s.spread.FarBid = 4.90
			},
			reason: FilterExecSpread,
		},
		{
			name: "zero debit aborts",
			mutate: func(s *stubProvider) {
				s.spread.FarAsk = 1.50 // below near bid
				s.spread.FarBid = 1.40
			},
			reason: FilterExecSpread,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := passingProvider()
			tt.mutate(provider)

			p := NewPipeline(provider, screenerConfig(), allocConfig(), nil)
			cand, err := p.Evaluate(context.Background(), "XYZ", scanDate)
			require.NoError(t, err)
			assert.False(t, cand.Approved)
			assert.Equal(t, tt.reason, cand.Reason)
			assert.Zero(t, cand.PositionSizePct)
			assert.Zero(t, provider.historyCalls, "optional filters only run after mandatory pass")
		})
	}
}

func TestEvaluateBonusFailureIsNotRejection(t *testing.T) {
	provider := passingProvider()
	provider.history = &EarningsHistory{
		MovesPct:    []float64{8.0, 9.0, 12.0}, // big movers
		CrushRatios: []float64{0.95, 0.90},     // vol holds up
	}

	p := NewPipeline(provider, screenerConfig(), allocConfig(), nil)
	cand, err := p.Evaluate(context.Background(), "XYZ", scanDate)
	require.NoError(t, err)

	assert.True(t, cand.Approved)
	assert.False(t, cand.FilterResults[FilterMoveStability])
	assert.False(t, cand.FilterResults[FilterVolCrush])
	assert.InDelta(t, 3.0, cand.PositionSizePct, 1e-9, "base size only")
}

func TestEvaluateHistoryErrorSkipsBonuses(t *testing.T) {
	provider := passingProvider()
	provider.historyErr = errors.New("no history")

	p := NewPipeline(provider, screenerConfig(), allocConfig(), nil)
	cand, err := p.Evaluate(context.Background(), "XYZ", scanDate)
	require.NoError(t, err)
	assert.True(t, cand.Approved)
	assert.InDelta(t, 3.0, cand.PositionSizePct, 1e-9)
}

func TestEvaluateDataErrorPropagates(t *testing.T) {
	provider := passingProvider()
	provider.spreadErr = errors.New("chain unavailable")

	p := NewPipeline(provider, screenerConfig(), allocConfig(), nil)
	_, err := p.Evaluate(context.Background(), "XYZ", scanDate)
	assert.Error(t, err)
}

func TestScanDropsFailedTickersAndAllocates(t *testing.T) {
	provider := passingProvider()
	pipeline := NewPipeline(provider, screenerConfig(), allocConfig(), nil)
	scanner := NewScanner(pipeline, NewAllocator(15.0), 2, nil)

	cands, err := scanner.Scan(context.Background(), []string{"AAA", "BBB", "CCC"}, scanDate)
	require.NoError(t, err)
	require.Len(t, cands, 3)

	total := 0.0
	for _, c := range cands {
		assert.True(t, c.Approved)
		total += c.PositionSizePct
	}
	assert.LessOrEqual(t, total, 15.0+1e-9)
}

func TestScanSurvivesProviderErrors(t *testing.T) {
	provider := passingProvider()
	provider.stockErr = errors.New("snapshot unavailable")
	pipeline := NewPipeline(provider, screenerConfig(), allocConfig(), nil)
	scanner := NewScanner(pipeline, NewAllocator(15.0), 2, nil)

	cands, err := scanner.Scan(context.Background(), []string{"AAA", "BBB"}, scanDate)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestShareBelow(t *testing.T) {
	assert.InDelta(t, 75.0, shareBelow([]float64{1, 2, 3, 10}, 5), 1e-9)
	assert.Zero(t, shareBelow(nil, 5))
}
