package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/earnings_spread/internal/models"
)

// Broker defines the interface for interacting with the brokerage and its
// market-data service.
type Broker interface {
	// Account operations
	GetAccountEquity(ctx context.Context) (float64, error)
	GetClock(ctx context.Context) (*Clock, error)
	GetOpenPositions(ctx context.Context) ([]Position, error)

	// Market data
	GetOptionChain(ctx context.Context, underlying string, gte, lte time.Time, typ models.OptionType) ([]models.OptionContract, error)
	GetLatestOptionQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)
	GetStockSnapshot(ctx context.Context, symbol string) (*StockSnapshot, error)
	GetStockBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)

	// Orders. SubmitSpreadOrder places both legs atomically as one
	// multi-leg order, never as two single-leg orders.
	SubmitSpreadOrder(ctx context.Context, order models.SpreadOrder, orderType string) (*Order, error)
	GetOpenOrders(ctx context.Context) ([]Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Ensure Client implements Broker at compile time.
var _ Broker = (*Client)(nil)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with
// custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// GetAccountEquity wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetAccountEquity(ctx context.Context) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetAccountEquity(ctx)
	})
}

// GetClock wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetClock(ctx context.Context) (*Clock, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Clock, error) {
		return b.GetClock(ctx)
	})
}

// GetOpenPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOpenPositions(ctx context.Context) ([]Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Position, error) {
		return b.GetOpenPositions(ctx)
	})
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, underlying string, gte, lte time.Time, typ models.OptionType) ([]models.OptionContract, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.OptionContract, error) {
		return b.GetOptionChain(ctx, underlying, gte, lte, typ)
	})
}

// GetLatestOptionQuotes wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetLatestOptionQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]Quote, error) {
		return b.GetLatestOptionQuotes(ctx, symbols)
	})
}

// GetStockSnapshot wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetStockSnapshot(ctx context.Context, symbol string) (*StockSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*StockSnapshot, error) {
		return b.GetStockSnapshot(ctx, symbol)
	})
}

// GetStockBars wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetStockBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Bar, error) {
		return b.GetStockBars(ctx, symbol, start, end)
	})
}

// SubmitSpreadOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SubmitSpreadOrder(ctx context.Context, order models.SpreadOrder, orderType string) (*Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Order, error) {
		return b.SubmitSpreadOrder(ctx, order, orderType)
	})
}

// GetOpenOrders wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOpenOrders(ctx context.Context) ([]Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Order, error) {
		return b.GetOpenOrders(ctx)
	})
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrder(ctx, orderID)
	})
	return err
}
