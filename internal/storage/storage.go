package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/models"
)

// JSONStorage persists day state to a single JSON file. All access goes
// through the mutex; writes land on a temp file and are renamed into place
// so a crash never leaves a half-written state file.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *dayState
}

type dayState struct {
	// Candidates keyed "scanDate|ticker".
	Candidates map[string]models.Candidate `json:"candidates"`
	// TrackedOrders keyed by order ID.
	TrackedOrders map[string]models.MonitoredOrder `json:"tracked_orders"`
	// IVReadings keyed by symbol, appended chronologically.
	IVReadings  map[string][]models.IVReading `json:"iv_readings"`
	LastUpdated time.Time                     `json:"last_updated"`
}

func newDayState() *dayState {
	return &dayState{
		Candidates:    make(map[string]models.Candidate),
		TrackedOrders: make(map[string]models.MonitoredOrder),
		IVReadings:    make(map[string][]models.IVReading),
	}
}

// NewJSONStorage creates a JSON-file-backed store, loading existing state
// if the file is present.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     newDayState(),
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load reads state from disk, replacing in-memory state.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	state := newDayState()
	if err := json.Unmarshal(data, state); err != nil {
		return err
	}
	// Maps may arrive nil from an older or hand-edited file.
	if state.Candidates == nil {
		state.Candidates = make(map[string]models.Candidate)
	}
	if state.TrackedOrders == nil {
		state.TrackedOrders = make(map[string]models.MonitoredOrder)
	}
	if state.IVReadings == nil {
		state.IVReadings = make(map[string][]models.IVReading)
	}
	s.data = state
	return nil
}

// Save writes state to disk atomically.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked requires s.mu to be held.
func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.filepath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filepath)
}

func candidateKey(scanDate, ticker string) string {
	return scanDate + "|" + ticker
}

// SaveCandidate upserts a scan candidate and persists.
func (s *JSONStorage) SaveCandidate(c models.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Candidates[candidateKey(c.ScanDate, c.Ticker)] = c
	return s.saveLocked()
}

// GetCandidates returns all candidates recorded for a scan date, sorted by
// ticker for deterministic iteration.
func (s *JSONStorage) GetCandidates(scanDate string) []models.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Candidate
	for _, c := range s.data.Candidates {
		if c.ScanDate == scanDate {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// ApprovedCandidates returns only the approved candidates for a scan date.
func (s *JSONStorage) ApprovedCandidates(scanDate string) []models.Candidate {
	all := s.GetCandidates(scanDate)
	approved := all[:0:0]
	for _, c := range all {
		if c.Approved {
			approved = append(approved, c)
		}
	}
	return approved
}

// SaveTrackedOrder upserts an order tracking record and persists.
func (s *JSONStorage) SaveTrackedOrder(o models.MonitoredOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.TrackedOrders[o.OrderID] = o
	return s.saveLocked()
}

// GetTrackedOrder looks up a tracking record by order ID.
func (s *JSONStorage) GetTrackedOrder(orderID string) (*models.MonitoredOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.data.TrackedOrders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return &o, nil
}

// RemoveTrackedOrder deletes a tracking record and persists. Removing an
// unknown ID is a no-op.
func (s *JSONStorage) RemoveTrackedOrder(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data.TrackedOrders, orderID)
	return s.saveLocked()
}

// TrackedOrders returns all tracking records, sorted by submission time.
func (s *JSONStorage) TrackedOrders() []models.MonitoredOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.MonitoredOrder, 0, len(s.data.TrackedOrders))
	for _, o := range s.data.TrackedOrders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// StoreIVReading appends an IV observation for a symbol and persists.
func (s *JSONStorage) StoreIVReading(reading models.IVReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.IVReadings[reading.Symbol] = append(s.data.IVReadings[reading.Symbol], reading)
	return s.saveLocked()
}

// GetIVReadings returns readings for a symbol with dates in
// [startDate, endDate], sorted ascending by date.
func (s *JSONStorage) GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readings := s.data.IVReadings[symbol]
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

// GetLatestIVReading returns the most recent reading for a symbol.
func (s *JSONStorage) GetLatestIVReading(symbol string) (*models.IVReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readings := s.data.IVReadings[symbol]
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

// Reset discards candidates and tracked orders from scan dates before the
// given one. IV history is kept for the vol-crush screen.
func (s *JSONStorage) Reset(scanDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range s.data.Candidates {
		if c.ScanDate < scanDate {
			delete(s.data.Candidates, key)
		}
	}
	for id, o := range s.data.TrackedOrders {
		if o.SubmittedAt.Format("2006-01-02") < scanDate {
			delete(s.data.TrackedOrders, id)
		}
	}
	return s.saveLocked()
}
