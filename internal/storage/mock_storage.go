package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/models"
)

// MockStorage implements Interface for testing. Not safe for concurrent
// use; tests drive it from one goroutine.
type MockStorage struct {
	saveError     error
	candidates    map[string]models.Candidate
	trackedOrders map[string]models.MonitoredOrder
	ivReadings    map[string][]models.IVReading
	saveCallCount int
}

// NewMockStorage creates a new mock storage for testing.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		candidates:    make(map[string]models.Candidate),
		trackedOrders: make(map[string]models.MonitoredOrder),
		ivReadings:    make(map[string][]models.IVReading),
	}
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)

// SetSaveError makes all subsequent writes fail with err.
func (m *MockStorage) SetSaveError(err error) { m.saveError = err }

// SaveCallCount reports how many persisting calls were made.
func (m *MockStorage) SaveCallCount() int { return m.saveCallCount }

func (m *MockStorage) SaveCandidate(c models.Candidate) error {
	if m.saveError != nil {
		return m.saveError
	}
	m.saveCallCount++
	m.candidates[candidateKey(c.ScanDate, c.Ticker)] = c
	return nil
}

func (m *MockStorage) GetCandidates(scanDate string) []models.Candidate {
	var out []models.Candidate
	for _, c := range m.candidates {
		if c.ScanDate == scanDate {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (m *MockStorage) ApprovedCandidates(scanDate string) []models.Candidate {
	var out []models.Candidate
	for _, c := range m.GetCandidates(scanDate) {
		if c.Approved {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockStorage) SaveTrackedOrder(o models.MonitoredOrder) error {
	if m.saveError != nil {
		return m.saveError
	}
	m.saveCallCount++
	m.trackedOrders[o.OrderID] = o
	return nil
}

func (m *MockStorage) GetTrackedOrder(orderID string) (*models.MonitoredOrder, error) {
	o, ok := m.trackedOrders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return &o, nil
}

func (m *MockStorage) RemoveTrackedOrder(orderID string) error {
	if m.saveError != nil {
		return m.saveError
	}
	delete(m.trackedOrders, orderID)
	return nil
}

func (m *MockStorage) TrackedOrders() []models.MonitoredOrder {
	out := make([]models.MonitoredOrder, 0, len(m.trackedOrders))
	for _, o := range m.trackedOrders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

func (m *MockStorage) StoreIVReading(reading models.IVReading) error {
	if m.saveError != nil {
		return m.saveError
	}
	m.ivReadings[reading.Symbol] = append(m.ivReadings[reading.Symbol], reading)
	return nil
}

func (m *MockStorage) GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error) {
	readings := m.ivReadings[symbol]
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoIVReadings, symbol)
	}
	var out []models.IVReading
	for _, r := range readings {
		if r.Date.Before(startDate) || r.Date.After(endDate) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MockStorage) GetLatestIVReading(symbol string) (*models.IVReading, error) {
	readings := m.ivReadings[symbol]
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoIVReadings, symbol)
	}
	latest := readings[0]
	for _, r := range readings[1:] {
		if r.Date.After(latest.Date) {
			latest = r
		}
	}
	return &latest, nil
}

func (m *MockStorage) Reset(scanDate string) error {
	for key, c := range m.candidates {
		if c.ScanDate < scanDate {
			delete(m.candidates, key)
		}
	}
	for id, o := range m.trackedOrders {
		if o.SubmittedAt.Format("2006-01-02") < scanDate {
			delete(m.trackedOrders, id)
		}
	}
	return nil
}

func (m *MockStorage) Save() error {
	if m.saveError != nil {
		return m.saveError
	}
	m.saveCallCount++
	return nil
}

func (m *MockStorage) Load() error { return nil }
