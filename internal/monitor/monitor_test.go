package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/earnings_spread/internal/broker"
	"github.com/eddiefleurent/earnings_spread/internal/models"
	"github.com/eddiefleurent/earnings_spread/internal/storage"
)

const (
	nearSymbol = "XYZ260306C00100000"
	farSymbol  = "XYZ260402C00100000"
)

type submitCall struct {
	order     models.SpreadOrder
	orderType string
}

// fakeBroker implements broker.Broker with canned data and call capture.
type fakeBroker struct {
	openOrders []broker.Order
	quotes     map[string]broker.Quote
	cancelled  []string
	submitted  []submitCall
	nextID     string
}

var _ broker.Broker = (*fakeBroker)(nil)

func (f *fakeBroker) GetAccountEquity(context.Context) (float64, error) { return 100000, nil }
func (f *fakeBroker) GetClock(context.Context) (*broker.Clock, error)  { return &broker.Clock{}, nil }
func (f *fakeBroker) GetOpenPositions(context.Context) ([]broker.Position, error) {
	return nil, nil
}
func (f *fakeBroker) GetOptionChain(context.Context, string, time.Time, time.Time, models.OptionType) ([]models.OptionContract, error) {
	return nil, nil
}
func (f *fakeBroker) GetLatestOptionQuotes(_ context.Context, symbols []string) (map[string]broker.Quote, error) {
	out := make(map[string]broker.Quote)
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}
func (f *fakeBroker) GetStockSnapshot(context.Context, string) (*broker.StockSnapshot, error) {
	return &broker.StockSnapshot{}, nil
}
func (f *fakeBroker) GetStockBars(context.Context, string, time.Time, time.Time) ([]broker.Bar, error) {
	return nil, nil
}
func (f *fakeBroker) SubmitSpreadOrder(_ context.Context, order models.SpreadOrder, orderType string) (*broker.Order, error) {
	f.submitted = append(f.submitted, submitCall{order: order, orderType: orderType})
	id := f.nextID
	if id == "" {
		id = "new-order"
	}
	return &broker.Order{ID: id}, nil
}
func (f *fakeBroker) GetOpenOrders(context.Context) ([]broker.Order, error) {
	return f.openOrders, nil
}
func (f *fakeBroker) CancelOrder(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func entryLegs() []models.SpreadLeg {
	return []models.SpreadLeg{
		{Symbol: nearSymbol, Side: models.LegSell, RatioQty: 1, Intent: models.IntentSellToOpen},
		{Symbol: farSymbol, Side: models.LegBuy, RatioQty: 1, Intent: models.IntentBuyToOpen},
	}
}

func exitLegs() []models.SpreadLeg {
	return []models.SpreadLeg{
		{Symbol: nearSymbol, Side: models.LegBuy, RatioQty: 1, Intent: models.IntentBuyToClose},
		{Symbol: farSymbol, Side: models.LegSell, RatioQty: 1, Intent: models.IntentSellToClose},
	}
}

type fixture struct {
	broker  *fakeBroker
	storage *storage.MockStorage
	monitor *Monitor
	now     time.Time
}

func newFixture(t *testing.T, tradeType models.TradeType, elapsed time.Duration, limitPrice float64) *fixture {
	t.Helper()

	submitted := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	legs := entryLegs()
	if tradeType == models.TradeExit {
		legs = exitLegs()
	}

	st := storage.NewMockStorage()
	require.NoError(t, st.SaveTrackedOrder(models.MonitoredOrder{
		OrderID:     "ord-1",
		Ticker:      "XYZ",
		TradeType:   tradeType,
		Legs:        legs,
		SubmittedAt: submitted,
		LimitPrice:  limitPrice,
	}))

	fb := &fakeBroker{
		openOrders: []broker.Order{{ID: "ord-1", Qty: "2"}},
		quotes: map[string]broker.Quote{
			nearSymbol: {Bid: 2.00, Ask: 2.20},
			farSymbol:  {Bid: 3.00, Ask: 3.20},
		},
	}

	return &fixture{
		broker:  fb,
		storage: st,
		monitor: NewMonitor(fb, st, DefaultPolicy, nil),
		now:     submitted.Add(elapsed),
	}
}

func TestEntryCancelledInMiddleWindow(t *testing.T) {
	// Market debit = 3.20 - 2.00 = 1.20, matching the limit: no drift,
	// but at 11 minutes a stale entry is cancelled, never repriced.
	f := newFixture(t, models.TradeEntry, 11*time.Minute, 1.20)

	result, err := f.monitor.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled)
	assert.Zero(t, result.Repriced)
	assert.Equal(t, []string{"ord-1"}, f.broker.cancelled)
	assert.Empty(t, f.broker.submitted)
	assert.Empty(t, f.storage.TrackedOrders())
}

func TestExitConvertedToMarketLate(t *testing.T) {
	f := newFixture(t, models.TradeExit, 14*time.Minute, 0.50)

	result, err := f.monitor.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Converted)
	assert.Equal(t, []string{"ord-1"}, f.broker.cancelled)
	require.Len(t, f.broker.submitted, 1)
	assert.Equal(t, broker.OrderTypeMarket, f.broker.submitted[0].orderType)
	assert.Equal(t, 2, f.broker.submitted[0].order.Quantity)
	assert.Empty(t, f.storage.TrackedOrders())
}

func TestEarlyDriftTriggersReprice(t *testing.T) {
	// Limit 1.00 vs market debit 1.20 is a 20% drift, far past threshold.
	f := newFixture(t, models.TradeEntry, 5*time.Minute, 1.00)
	f.broker.nextID = "ord-2"

	result, err := f.monitor.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Repriced)
	assert.Equal(t, []string{"ord-1"}, f.broker.cancelled)
	require.Len(t, f.broker.submitted, 1)
	assert.Equal(t, broker.OrderTypeLimit, f.broker.submitted[0].orderType)
	assert.InDelta(t, 1.20, f.broker.submitted[0].order.LimitPrice, 1e-9)

	orders := f.storage.TrackedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, "ord-2", orders[0].OrderID)
	assert.InDelta(t, 1.20, orders[0].LimitPrice, 1e-9)
	assert.Equal(t, time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC), orders[0].SubmittedAt,
		"reprice must not reset the escalation clock")
}

func TestEarlyStablePriceHolds(t *testing.T) {
	f := newFixture(t, models.TradeEntry, 5*time.Minute, 1.20)

	result, err := f.monitor.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Zero(t, result.Repriced+result.Cancelled+result.Converted)
	assert.Empty(t, f.broker.cancelled)
	assert.Len(t, f.storage.TrackedOrders(), 1)
}

func TestExitRepricedAtDiscountInMiddleWindow(t *testing.T) {
	// Exit credit = nearBid - farAsk; rig quotes so it is positive.
	f := newFixture(t, models.TradeExit, 11*time.Minute, 1.00)
	f.broker.quotes = map[string]broker.Quote{
		nearSymbol: {Bid: 4.00, Ask: 4.20},
		farSymbol:  {Bid: 3.00, Ask: 3.20},
	}
	f.broker.nextID = "ord-2"

	result, err := f.monitor.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Repriced)
	require.Len(t, f.broker.submitted, 1)
	// credit 0.80 less the 0.05 discount
	assert.InDelta(t, 0.75, f.broker.submitted[0].order.LimitPrice, 1e-9)
}

func TestSettledOrderDropped(t *testing.T) {
	f := newFixture(t, models.TradeEntry, 5*time.Minute, 1.20)
	f.broker.openOrders = nil // filled at the broker

	result, err := f.monitor.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Settled)
	assert.Empty(t, f.storage.TrackedOrders())
	assert.Empty(t, f.broker.cancelled)
}

func TestWindowExpiryDropsTracking(t *testing.T) {
	f := newFixture(t, models.TradeExit, 16*time.Minute, 0.50)

	result, err := f.monitor.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Empty(t, f.broker.cancelled, "expired orders are left to day-order expiry")
	assert.Empty(t, f.storage.TrackedOrders())
}

func TestUnusableQuotesBlockRepriceOnly(t *testing.T) {
	// A collapsed market prices the spread at zero. Repricing on that
	// would submit a free order, but the time-based rules carry no price
	// precondition and must still fire.
	unusable := map[string]broker.Quote{
		nearSymbol: {Bid: 3.50, Ask: 3.60},
		farSymbol:  {Bid: 3.00, Ask: 3.20}, // entry debit clamps to zero
	}

	t.Run("early window holds instead of repricing", func(t *testing.T) {
		f := newFixture(t, models.TradeEntry, 5*time.Minute, 1.20)
		f.broker.quotes = unusable

		result, err := f.monitor.RunOnce(context.Background(), f.now)
		require.NoError(t, err)
		assert.Zero(t, result.Cancelled+result.Repriced+result.Converted)
		assert.Empty(t, f.broker.cancelled)
		assert.Len(t, f.storage.TrackedOrders(), 1)
	})

	t.Run("stale entry still cancelled in middle window", func(t *testing.T) {
		f := newFixture(t, models.TradeEntry, 11*time.Minute, 1.20)
		f.broker.quotes = unusable

		result, err := f.monitor.RunOnce(context.Background(), f.now)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Cancelled)
		assert.Equal(t, []string{"ord-1"}, f.broker.cancelled)
		assert.Empty(t, f.storage.TrackedOrders())
	})

	t.Run("stale exit still converted to market late", func(t *testing.T) {
		f := newFixture(t, models.TradeExit, 14*time.Minute, 0.50)
		f.broker.quotes = map[string]broker.Quote{
			nearSymbol: {Bid: 3.00, Ask: 3.20},
			farSymbol:  {Bid: 3.40, Ask: 3.60}, // exit credit clamps to zero
		}

		result, err := f.monitor.RunOnce(context.Background(), f.now)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Converted)
		require.Len(t, f.broker.submitted, 1)
		assert.Equal(t, broker.OrderTypeMarket, f.broker.submitted[0].orderType)
	})

	t.Run("stale exit reprice at discount waits for a usable price", func(t *testing.T) {
		f := newFixture(t, models.TradeExit, 11*time.Minute, 0.50)
		f.broker.quotes = map[string]broker.Quote{
			nearSymbol: {Bid: 3.00, Ask: 3.20},
			farSymbol:  {Bid: 3.40, Ask: 3.60},
		}

		result, err := f.monitor.RunOnce(context.Background(), f.now)
		require.NoError(t, err)
		assert.Zero(t, result.Repriced)
		assert.Empty(t, f.broker.submitted)
		assert.Len(t, f.storage.TrackedOrders(), 1)
	})
}

func TestMissingQuotePricesAsZero(t *testing.T) {
	// A leg absent from the quote response must not stall the time rules.
	f := newFixture(t, models.TradeEntry, 11*time.Minute, 1.20)
	f.broker.quotes = map[string]broker.Quote{
		nearSymbol: {Bid: 2.00, Ask: 2.20},
	}

	result, err := f.monitor.RunOnce(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled)
	assert.Equal(t, []string{"ord-1"}, f.broker.cancelled)
}

func TestDecideTransitionTable(t *testing.T) {
	p := DefaultPolicy

	tests := []struct {
		name      string
		tradeType models.TradeType
		elapsed   time.Duration
		market    float64
		limit     float64
		want      models.Action
	}{
		{"early no drift holds", models.TradeEntry, 2 * time.Minute, 1.20, 1.20, models.ActionHold},
		{"early drift reprices", models.TradeEntry, 2 * time.Minute, 1.30, 1.20, models.ActionReprice},
		{"early exit drift reprices", models.TradeExit, 9 * time.Minute, 0.90, 1.00, models.ActionReprice},
		{"entry at 11m cancels", models.TradeEntry, 11 * time.Minute, 1.20, 1.20, models.ActionCancel},
		{"exit at 11m reprices", models.TradeExit, 11 * time.Minute, 1.20, 1.20, models.ActionReprice},
		{"exit at 14m converts", models.TradeExit, 14 * time.Minute, 1.20, 1.20, models.ActionConvertToMarket},
		{"entry at 14m holds", models.TradeEntry, 14 * time.Minute, 1.20, 1.20, models.ActionHold},
		{"boundary 10m is middle window", models.TradeEntry, 10 * time.Minute, 1.20, 1.20, models.ActionCancel},
		{"boundary 13m is late window", models.TradeExit, 13 * time.Minute, 1.20, 1.20, models.ActionConvertToMarket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(tt.tradeType, tt.elapsed, tt.market, tt.limit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepriceTarget(t *testing.T) {
	p := DefaultPolicy

	assert.InDelta(t, 1.20, p.RepriceTarget(models.TradeEntry, 5*time.Minute, 1.20), 1e-9)
	assert.InDelta(t, 1.15, p.RepriceTarget(models.TradeExit, 11*time.Minute, 1.20), 1e-9)
	assert.Zero(t, p.RepriceTarget(models.TradeExit, 11*time.Minute, 0.03), "discount never goes negative")

	// Quote arithmetic noise snaps to the penny.
	assert.InDelta(t, 0.33, p.RepriceTarget(models.TradeEntry, 5*time.Minute, 0.32999999999999996), 1e-12)
}
