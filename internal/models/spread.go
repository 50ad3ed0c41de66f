package models

import (
	"errors"
	"fmt"
	"math"
)

// LegSide is the direction of a single spread leg.
type LegSide string

const (
	// LegBuy is a long leg.
	LegBuy LegSide = "buy"
	// LegSell is a short leg.
	LegSell LegSide = "sell"
)

// PositionIntent disambiguates opening vs closing flows for the brokerage.
type PositionIntent string

// Position intents accepted on multi-leg orders.
const (
	IntentBuyToOpen   PositionIntent = "buy_to_open"
	IntentSellToOpen  PositionIntent = "sell_to_open"
	IntentBuyToClose  PositionIntent = "buy_to_close"
	IntentSellToClose PositionIntent = "sell_to_close"
)

// Valid returns true if the PositionIntent is one of the defined constants.
func (p PositionIntent) Valid() bool {
	switch p {
	case IntentBuyToOpen, IntentSellToOpen, IntentBuyToClose, IntentSellToClose:
		return true
	default:
		return false
	}
}

// ErrUncoveredShort is returned when a spread's short legs are not fully
// covered by long legs within the same (underlying, expiration) group.
// Submitting such an order would violate brokerage compliance rules.
var ErrUncoveredShort = errors.New("short legs exceed long coverage")

// SpreadLeg is one leg of a multi-leg option order.
type SpreadLeg struct {
	Symbol   string         `json:"symbol"`
	Side     LegSide        `json:"side"`
	RatioQty int            `json:"ratio_qty"`
	Intent   PositionIntent `json:"position_intent"`
}

// SpreadOrder is a two-leg calendar spread plus the order-level price and
// quantity submitted to the brokerage as a single atomic multi-leg order.
type SpreadOrder struct {
	Underlying string      `json:"underlying"`
	Legs       []SpreadLeg `json:"legs"`
	Quantity   int         `json:"quantity"`
	LimitPrice float64     `json:"limit_price"`
}

// GCD returns the greatest common divisor of a and b.
// Satisfies gcd(a, 0) = a and gcd(a, b) = gcd(b, a mod b).
func GCD(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// ReduceRatios divides every leg's ratio quantity by the GCD across legs so
// the minimal representation has GCD = 1. A [4,4] input becomes [1,1].
func ReduceRatios(legs []SpreadLeg) []SpreadLeg {
	if len(legs) == 0 {
		return legs
	}

	g := 0
	for _, leg := range legs {
		g = GCD(g, leg.RatioQty)
	}
	if g <= 1 {
		return legs
	}

	reduced := make([]SpreadLeg, len(legs))
	for i, leg := range legs {
		leg.RatioQty /= g
		reduced[i] = leg
	}
	return reduced
}

// IsCalendarSpread reports whether legs form a valid calendar spread:
// exactly two legs with distinct expirations, opposite sides, and equal
// absolute quantity. Same-expiration pairs (verticals) and same-side pairs
// are rejected.
func IsCalendarSpread(legs []SpreadLeg) bool {
	if len(legs) != 2 {
		return false
	}

	expA, errA := OptionExpiration(legs[0].Symbol)
	expB, errB := OptionExpiration(legs[1].Symbol)
	if errA != nil || errB != nil {
		return false
	}

	if expA.Equal(expB) {
		return false
	}
	if legs[0].Side == legs[1].Side {
		return false
	}

	qtyA := int(math.Abs(float64(legs[0].RatioQty)))
	qtyB := int(math.Abs(float64(legs[1].RatioQty)))
	return qtyA == qtyB && qtyA >= 1
}

// Validate checks the calendar-spread invariant and reduces leg ratios.
func (o *SpreadOrder) Validate() error {
	if !IsCalendarSpread(o.Legs) {
		return fmt.Errorf("order for %s is not a valid calendar spread", o.Underlying)
	}
	if o.Quantity < 1 {
		return fmt.Errorf("order for %s has quantity %d, must be >= 1", o.Underlying, o.Quantity)
	}
	o.Legs = ReduceRatios(o.Legs)
	return nil
}

// CheckCoveredShorts verifies that within every (underlying, expiration)
// group the summed short quantity does not exceed the summed long quantity.
// existingLong maps option symbols already held long to their contract
// counts; those lots count toward coverage.
func CheckCoveredShorts(legs []SpreadLeg, existingLong map[string]int) error {
	type group struct {
		long  int
		short int
	}
	groups := map[string]*group{}

	key := func(symbol string) (string, error) {
		underlying, exp, _, _, err := ParseOptionSymbol(symbol)
		if err != nil {
			return "", err
		}
		return underlying + "|" + exp.Format("2006-01-02"), nil
	}

	for _, leg := range legs {
		k, err := key(leg.Symbol)
		if err != nil {
			return fmt.Errorf("covered-short check: %w", err)
		}
		g := groups[k]
		if g == nil {
			g = &group{}
			groups[k] = g
		}
		if leg.Side == LegSell {
			g.short += leg.RatioQty
		} else {
			g.long += leg.RatioQty
		}
	}

	for symbol, qty := range existingLong {
		if qty <= 0 {
			continue
		}
		k, err := key(symbol)
		if err != nil {
			// Held lots that aren't options don't contribute coverage.
			continue
		}
		if g, ok := groups[k]; ok {
			g.long += qty
		}
	}

	for k, g := range groups {
		if g.short > g.long {
			return fmt.Errorf("%w: group %s has %d short vs %d long", ErrUncoveredShort, k, g.short, g.long)
		}
	}
	return nil
}
