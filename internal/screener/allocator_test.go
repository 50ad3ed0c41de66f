package screener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/earnings_spread/internal/models"
)

func approved(ticker string, pct float64) models.Candidate {
	return models.Candidate{Ticker: ticker, ScanDate: "2026-03-02", Approved: true, PositionSizePct: pct}
}

func TestAllocateUnderCapUnchanged(t *testing.T) {
	a := NewAllocator(15.0)
	in := []models.Candidate{approved("AAA", 4), approved("BBB", 6)}

	out := a.Allocate(in)
	require.Len(t, out, 2)
	assert.InDelta(t, 4.0, out[0].PositionSizePct, 1e-9)
	assert.InDelta(t, 6.0, out[1].PositionSizePct, 1e-9)
}

func TestAllocateScalesProportionally(t *testing.T) {
	a := NewAllocator(15.0)
	in := []models.Candidate{approved("AAA", 6), approved("BBB", 6), approved("CCC", 6), approved("DDD", 6)}

	out := a.Allocate(in)

	total := 0.0
	for i, c := range out {
		total += c.PositionSizePct
		assert.InDelta(t, 3.75, c.PositionSizePct, 1e-9, "candidate %d", i)
	}
	assert.InDelta(t, 15.0, total, 1e-9)
}

func TestAllocatePreservesRelativeOrder(t *testing.T) {
	a := NewAllocator(10.0)
	in := []models.Candidate{approved("SMALL", 3), approved("BIG", 9)}

	out := a.Allocate(in)
	assert.Greater(t, out[1].PositionSizePct, out[0].PositionSizePct)
	assert.InDelta(t, 3.0, out[1].PositionSizePct/out[0].PositionSizePct, 1e-9, "3:1 ratio preserved")
	assert.InDelta(t, 10.0, out[0].PositionSizePct+out[1].PositionSizePct, 1e-9)
}

func TestAllocateClampsSingleOversizedCandidate(t *testing.T) {
	a := NewAllocator(15.0)
	out := a.Allocate([]models.Candidate{approved("WHALE", 20)})
	require.Len(t, out, 1)
	assert.InDelta(t, 15.0, out[0].PositionSizePct, 1e-9)
}

func TestAllocateIgnoresRejectedCandidates(t *testing.T) {
	a := NewAllocator(10.0)
	rejected := models.Candidate{Ticker: "NOPE", ScanDate: "2026-03-02", Approved: false, Reason: FilterLiquidity}
	in := []models.Candidate{approved("AAA", 8), approved("BBB", 8), rejected}

	out := a.Allocate(in)
	require.Len(t, out, 3)
	assert.InDelta(t, 5.0, out[0].PositionSizePct, 1e-9)
	assert.InDelta(t, 5.0, out[1].PositionSizePct, 1e-9)
	assert.Zero(t, out[2].PositionSizePct, "rejected candidates are never scaled")
}

func TestAllocateEmptyAndDoesNotMutateInput(t *testing.T) {
	a := NewAllocator(15.0)
	assert.Empty(t, a.Allocate(nil))

	in := []models.Candidate{approved("AAA", 20)}
	_ = a.Allocate(in)
	assert.InDelta(t, 20.0, in[0].PositionSizePct, 1e-9, "input slice untouched")
}
