package models

// Candidate is the per-ticker outcome of a scan: which screens it passed,
// whether it is approved for trading, and the slice of account equity it
// may consume. Created once per (scanDate, ticker); the allocator mutates
// PositionSizePct exactly once during the proportional-scaling pass.
type Candidate struct {
	Ticker          string          `json:"ticker"`
	ScanDate        string          `json:"scan_date"` // YYYY-MM-DD in exchange time
	FilterResults   map[string]bool `json:"filter_results"`
	Approved        bool            `json:"approved"`
	Reason          string          `json:"reason,omitempty"` // rejection reason code
	PositionSizePct float64         `json:"position_size_pct"`
}
