package models

import "time"

// TradeType distinguishes position-opening orders from position-closing
// orders; the lifecycle policy diverges between the two.
type TradeType string

const (
	// TradeEntry opens a calendar spread (buy far, sell near).
	TradeEntry TradeType = "entry"
	// TradeExit unwinds a calendar spread (sell near leg back, buy far back).
	TradeExit TradeType = "exit"
)

// Valid returns true if the TradeType is one of the defined constants.
func (t TradeType) Valid() bool {
	return t == TradeEntry || t == TradeExit
}

// Action is the lifecycle decision produced for an open order on each
// monitoring tick.
type Action string

// Lifecycle actions in escalation order.
const (
	ActionHold            Action = "hold"
	ActionReprice         Action = "reprice"
	ActionCancel          Action = "cancel"
	ActionConvertToMarket Action = "convert_to_market"
)

// MonitorWindow is how long an order stays under active lifecycle
// management after submission. Orders still open afterwards are left to
// the brokerage's day-order expiry.
const MonitorWindow = 15 * time.Minute

// MonitoredOrder is the minimal tracking record for an open order. The
// submitting phase creates it; the lifecycle monitor is the sole mutator
// of LimitPrice and OrderID (on reprice) during its lifetime. State is
// reconstructed from broker-reported submission time on every tick, so the
// record carries no cursor of its own.
type MonitoredOrder struct {
	OrderID     string      `json:"order_id"`
	Ticker      string      `json:"ticker"`
	TradeType   TradeType   `json:"trade_type"`
	Legs        []SpreadLeg `json:"legs"`
	SubmittedAt time.Time   `json:"submitted_at"`
	LimitPrice  float64     `json:"limit_price"`
}

// Elapsed returns the time since the order was submitted.
func (o *MonitoredOrder) Elapsed(now time.Time) time.Duration {
	return now.Sub(o.SubmittedAt)
}

// WindowExpired reports whether the monitoring window has elapsed and the
// record is terminal.
func (o *MonitoredOrder) WindowExpired(now time.Time) bool {
	return o.Elapsed(now) >= MonitorWindow
}

// IVReading is a single implied volatility observation for a symbol on a
// given date, recorded during scans and consumed by the vol-crush history
// filter.
type IVReading struct {
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	IV        float64   `json:"iv"`
	Timestamp time.Time `json:"timestamp"`
}
