package monitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/broker"
	"github.com/eddiefleurent/earnings_spread/internal/chains"
	"github.com/eddiefleurent/earnings_spread/internal/models"
	"github.com/eddiefleurent/earnings_spread/internal/storage"
)

// Monitor reconciles tracked orders against the brokerage each tick and
// applies the lifecycle policy. It keeps no cursor of its own: every tick
// re-derives state from broker-reported submission times, so repeated or
// restarted invocations are idempotent.
type Monitor struct {
	broker  broker.Broker
	storage storage.Interface
	policy  Policy
	logger  *log.Logger
}

// NewMonitor creates a lifecycle monitor.
func NewMonitor(b broker.Broker, st storage.Interface, policy Policy, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "monitor: ", log.LstdFlags)
	}
	if b == nil {
		panic("monitor.NewMonitor: broker must not be nil")
	}
	if st == nil {
		panic("monitor.NewMonitor: storage must not be nil")
	}
	return &Monitor{broker: b, storage: st, policy: policy, logger: logger}
}

// Result summarizes one monitoring tick.
type Result struct {
	Checked   int
	Repriced  int
	Cancelled int
	Converted int
	Settled   int // no longer open at the broker, tracking dropped
	Expired   int // monitoring window elapsed, left to day-order expiry
}

// RunOnce performs one monitoring tick over all tracked orders at the
// given wall-clock time. Per-order failures are logged and skipped so one
// bad order never stalls the rest.
func (m *Monitor) RunOnce(ctx context.Context, now time.Time) (*Result, error) {
	openOrders, err := m.broker.GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching open orders: %w", err)
	}
	openByID := make(map[string]broker.Order, len(openOrders))
	for _, o := range openOrders {
		openByID[o.ID] = o
	}

	result := &Result{}
	for _, tracked := range m.storage.TrackedOrders() {
		result.Checked++

		open, stillOpen := openByID[tracked.OrderID]
		if !stillOpen {
			// Filled or cancelled out of band; tracking is done.
			if err := m.storage.RemoveTrackedOrder(tracked.OrderID); err != nil {
				m.logger.Printf("Failed to drop settled order %s: %v", tracked.OrderID, err)
			}
			result.Settled++
			continue
		}

		if tracked.WindowExpired(now) {
			if err := m.storage.RemoveTrackedOrder(tracked.OrderID); err != nil {
				m.logger.Printf("Failed to drop expired order %s: %v", tracked.OrderID, err)
			}
			result.Expired++
			continue
		}

		if err := m.applyPolicy(ctx, tracked, open, now, result); err != nil {
			m.logger.Printf("Monitoring %s order %s for %s failed: %v",
				tracked.TradeType, tracked.OrderID, tracked.Ticker, err)
		}
	}
	return result, nil
}

func (m *Monitor) applyPolicy(ctx context.Context, tracked models.MonitoredOrder, open broker.Order, now time.Time, result *Result) error {
	marketPrice, err := m.spreadMarketPrice(ctx, tracked)
	if err != nil {
		return err
	}

	elapsed := tracked.Elapsed(now)
	action := m.policy.Decide(tracked.TradeType, elapsed, marketPrice, tracked.LimitPrice)

	switch action {
	case models.ActionHold:
		return nil

	case models.ActionCancel:
		if err := m.broker.CancelOrder(ctx, tracked.OrderID); err != nil {
			return fmt.Errorf("cancelling: %w", err)
		}
		if err := m.storage.RemoveTrackedOrder(tracked.OrderID); err != nil {
			return err
		}
		result.Cancelled++
		m.logger.Printf("Cancelled stale %s order %s for %s after %s",
			tracked.TradeType, tracked.OrderID, tracked.Ticker, elapsed.Round(time.Second))
		return nil

	case models.ActionReprice:
		// Repricing is the only action that needs a live price. Cancels
		// and market conversions fire on time alone, even when quotes
		// are unusable.
		if marketPrice <= 0 {
			m.logger.Printf("No tradeable spread price for %s order %s, holding", tracked.Ticker, tracked.OrderID)
			return nil
		}
		target := m.policy.RepriceTarget(tracked.TradeType, elapsed, marketPrice)
		if target <= 0 {
			m.logger.Printf("Reprice target for %s collapsed to zero, holding", tracked.OrderID)
			return nil
		}
		newID, err := m.resubmit(ctx, tracked, open, broker.OrderTypeLimit, target)
		if err != nil {
			return fmt.Errorf("repricing: %w", err)
		}
		if err := m.storage.RemoveTrackedOrder(tracked.OrderID); err != nil {
			return err
		}
		// The clock keeps running from the original submission so the
		// escalation schedule is unaffected by reprices.
		tracked.OrderID = newID
		tracked.LimitPrice = target
		if err := m.storage.SaveTrackedOrder(tracked); err != nil {
			return err
		}
		result.Repriced++
		m.logger.Printf("Repriced %s order for %s to %.2f (order %s)",
			tracked.TradeType, tracked.Ticker, target, newID)
		return nil

	case models.ActionConvertToMarket:
		if _, err := m.resubmit(ctx, tracked, open, broker.OrderTypeMarket, 0); err != nil {
			return fmt.Errorf("converting to market: %w", err)
		}
		if err := m.storage.RemoveTrackedOrder(tracked.OrderID); err != nil {
			return err
		}
		result.Converted++
		m.logger.Printf("Converted %s order for %s to market after %s",
			tracked.TradeType, tracked.Ticker, elapsed.Round(time.Second))
		return nil

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// spreadMarketPrice recomputes the live price of the tracked spread from
// the latest leg quotes: the debit for entries, the credit for exits. A
// missing leg quote prices as zero so time-based decisions still run.
func (m *Monitor) spreadMarketPrice(ctx context.Context, tracked models.MonitoredOrder) (float64, error) {
	if len(tracked.Legs) != 2 {
		return 0, fmt.Errorf("tracked order %s has %d legs", tracked.OrderID, len(tracked.Legs))
	}

	symbols := []string{tracked.Legs[0].Symbol, tracked.Legs[1].Symbol}
	quotes, err := m.broker.GetLatestOptionQuotes(ctx, symbols)
	if err != nil {
		return 0, fmt.Errorf("fetching leg quotes: %w", err)
	}

	nearSym, farSym, err := orderLegsByExpiration(symbols[0], symbols[1])
	if err != nil {
		return 0, err
	}
	near, far := quotes[nearSym], quotes[farSym]

	if tracked.TradeType == models.TradeExit {
		return chains.Credit(near.Bid, far.Ask), nil
	}
	return chains.Debit(far.Ask, near.Bid), nil
}

// resubmit cancels the working order and places a replacement of the given
// type, returning the new order ID.
func (m *Monitor) resubmit(ctx context.Context, tracked models.MonitoredOrder, open broker.Order, orderType string, limit float64) (string, error) {
	underlying, _, _, _, err := models.ParseOptionSymbol(tracked.Legs[0].Symbol)
	if err != nil {
		return "", fmt.Errorf("parsing leg symbol: %w", err)
	}

	qty, err := strconv.Atoi(open.Qty)
	if err != nil || qty < 1 {
		return "", fmt.Errorf("invalid open-order quantity %q", open.Qty)
	}

	order := models.SpreadOrder{
		Underlying: underlying,
		Legs:       tracked.Legs,
		Quantity:   qty,
		LimitPrice: limit,
	}
	if err := order.Validate(); err != nil {
		return "", err
	}

	if err := m.broker.CancelOrder(ctx, tracked.OrderID); err != nil {
		return "", fmt.Errorf("cancelling before resubmit: %w", err)
	}

	placed, err := m.broker.SubmitSpreadOrder(ctx, order, orderType)
	if err != nil {
		return "", err
	}
	return placed.ID, nil
}

// orderLegsByExpiration returns the two symbols ordered (near, far).
func orderLegsByExpiration(a, b string) (string, string, error) {
	expA, err := models.OptionExpiration(a)
	if err != nil {
		return "", "", err
	}
	expB, err := models.OptionExpiration(b)
	if err != nil {
		return "", "", err
	}
	if expA.After(expB) {
		return b, a, nil
	}
	return a, b, nil
}
