// Package util provides price rounding helpers for order construction.
package util

import "math"

// snapEpsilon absorbs float noise so values a hair off a tick boundary
// are treated as on it.
const snapEpsilon = 1e-9

// RoundToTick rounds x to the nearest tick increment. Option limit prices
// trade in $0.01 or $0.05 ticks depending on the contract.
func RoundToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to a tick boundary. Used for buy-side limits
// so a rounded price never exceeds the intended one.
func FloorToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Floor(snap(x/tick)) * tick
}

// CeilToTick rounds x up to a tick boundary.
func CeilToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Ceil(snap(x/tick)) * tick
}

// RoundToCents rounds a dollar amount to the penny.
func RoundToCents(x float64) float64 {
	return RoundToTick(x, 0.01)
}

// snap pulls q onto the nearest integer when float error put it a hair
// off, so exact tick multiples survive floor and ceil.
func snap(q float64) float64 {
	if nearest := math.Round(q); math.Abs(q-nearest) < snapEpsilon {
		return nearest
	}
	return q
}
