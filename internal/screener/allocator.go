package screener

import "github.com/eddiefleurent/earnings_spread/internal/models"

// Allocator enforces the portfolio-wide cap on the sum of approved
// position sizes for a scan date.
type Allocator struct {
	CapPct float64
}

// NewAllocator creates an Allocator with the given cap percentage.
func NewAllocator(capPct float64) *Allocator {
	return &Allocator{CapPct: capPct}
}

// Allocate scales approved candidates so their combined allocation never
// exceeds the cap. Under the cap, sizes pass through unchanged; over it,
// every approved size is multiplied by cap/sum, which preserves relative
// ranking and clamps a single oversized candidate to the cap exactly.
func (a *Allocator) Allocate(candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(candidates))
	copy(out, candidates)

	total := 0.0
	for _, c := range out {
		if c.Approved {
			total += c.PositionSizePct
		}
	}
	if total <= a.CapPct || total == 0 {
		return out
	}

	scale := a.CapPct / total
	for i := range out {
		if out[i].Approved {
			out[i].PositionSizePct *= scale
		}
	}
	return out
}
