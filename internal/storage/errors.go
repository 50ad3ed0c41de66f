package storage

import "errors"

// ErrNoIVReadings is returned when no IV readings are stored for a symbol.
var ErrNoIVReadings = errors.New("no IV readings found")

// ErrOrderNotFound is returned when an order ID is not tracked.
var ErrOrderNotFound = errors.New("tracked order not found")
