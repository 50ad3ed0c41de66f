// Package storage persists the bot's ephemeral day state: scan candidates,
// tracked open orders, and the IV reading history consumed by the vol-crush
// screen.
package storage

import (
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/models"
)

// Interface defines the contract for day-state persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call them from multiple
// goroutines.
//
// The provided JSONStorage implementation uses sync.RWMutex to serialize
// access, ensuring all Interface methods are protected for concurrent
// readers and writers.
type Interface interface {
	// Scan candidates, keyed (scanDate, ticker)
	SaveCandidate(c models.Candidate) error
	GetCandidates(scanDate string) []models.Candidate
	ApprovedCandidates(scanDate string) []models.Candidate

	// Tracked open orders, keyed by order ID
	SaveTrackedOrder(o models.MonitoredOrder) error
	GetTrackedOrder(orderID string) (*models.MonitoredOrder, error)
	RemoveTrackedOrder(orderID string) error
	TrackedOrders() []models.MonitoredOrder

	// IV reading history
	StoreIVReading(reading models.IVReading) error
	GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error)
	GetLatestIVReading(symbol string) (*models.IVReading, error)

	// Lifecycle. Reset discards candidates and tracked orders from days
	// before the given scan date; IV history is long-lived and survives.
	Reset(scanDate string) error
	Save() error
	Load() error
}

// NewStorage creates a new storage implementation (currently JSON-based).
// In the future, this can be extended to support different storage backends.
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
