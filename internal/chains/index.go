// Package chains indexes option-chain snapshots and selects the calendar
// spread traded around an earnings report.
package chains

import (
	"sort"
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/models"
)

// strikeTolerance is the equality window for strike lookups; OCC symbols
// encode strikes in thousandths of a dollar.
const strikeTolerance = 1e-3

// Index groups a chain snapshot by expiration for strike lookups.
type Index struct {
	byExpiration map[time.Time][]models.OptionContract // sorted by strike
	expirations  []time.Time                           // sorted ascending
}

// NewIndex builds an Index from a chain snapshot. Contract order within an
// expiration is normalized to ascending strike.
func NewIndex(contracts []models.OptionContract) *Index {
	byExp := make(map[time.Time][]models.OptionContract)
	for _, c := range contracts {
		key := dateOnly(c.Expiration)
		byExp[key] = append(byExp[key], c)
	}

	expirations := make([]time.Time, 0, len(byExp))
	for exp, list := range byExp {
		sort.Slice(list, func(i, j int) bool { return list[i].Strike < list[j].Strike })
		byExp[exp] = list
		expirations = append(expirations, exp)
	}
	sort.Slice(expirations, func(i, j int) bool { return expirations[i].Before(expirations[j]) })

	return &Index{byExpiration: byExp, expirations: expirations}
}

// Expirations returns all expirations in the snapshot, ascending.
func (idx *Index) Expirations() []time.Time {
	return idx.expirations
}

// Strikes returns the sorted strikes listed for an expiration.
func (idx *Index) Strikes(expiration time.Time) []float64 {
	list := idx.byExpiration[dateOnly(expiration)]
	strikes := make([]float64, len(list))
	for i, c := range list {
		strikes[i] = c.Strike
	}
	return strikes
}

// AtStrike returns the contract at (expiration, strike), matching strikes
// within the tolerance. The second return is false when no contract is
// listed there.
func (idx *Index) AtStrike(expiration time.Time, strike float64) (models.OptionContract, bool) {
	for _, c := range idx.byExpiration[dateOnly(expiration)] {
		if diff := c.Strike - strike; diff > -strikeTolerance && diff < strikeTolerance {
			return c, true
		}
	}
	return models.OptionContract{}, false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
