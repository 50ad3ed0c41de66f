// Package calendar provides the earnings-calendar data source and the
// market session service used to gate phase invocations.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// EarningsHour indicates when in the session a company reports.
type EarningsHour string

// Reporting slots as encoded by the calendar provider.
const (
	HourAfterClose EarningsHour = "amc"
	HourBeforeOpen EarningsHour = "bmo"
	HourDuring     EarningsHour = "dmh"
)

// EarningsEvent is one scheduled earnings report.
type EarningsEvent struct {
	Symbol string
	Date   time.Time
	Hour   EarningsHour
}

// EarningsSource yields the set of tickers to screen for a scan date.
type EarningsSource interface {
	ScanUniverse(ctx context.Context, scanDate time.Time) ([]string, error)
}

// EarningsClient queries an earnings-calendar REST provider.
type EarningsClient struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   *log.Logger
}

// Ensure EarningsClient implements EarningsSource at compile time.
var _ EarningsSource = (*EarningsClient)(nil)

// NewEarningsClient creates a calendar provider client.
func NewEarningsClient(endpoint, apiKey string, logger *log.Logger) *EarningsClient {
	if logger == nil {
		logger = log.Default()
	}
	return &EarningsClient{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger,
	}
}

type wireEarning struct {
	Symbol string `json:"symbol"`
	Date   string `json:"date"` // YYYY-MM-DD
	Hour   string `json:"hour"` // amc | bmo | dmh
}

type earningsResponse struct {
	Earnings []wireEarning `json:"earnings"`
}

// GetEarnings returns all scheduled reports with dates in [from, to].
func (c *EarningsClient) GetEarnings(ctx context.Context, from, to time.Time) ([]EarningsEvent, error) {
	params := url.Values{}
	params.Set("from", from.Format("2006-01-02"))
	params.Set("to", to.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Add("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching earnings calendar: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("earnings calendar returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed earningsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding earnings calendar: %w", err)
	}

	events := make([]EarningsEvent, 0, len(parsed.Earnings))
	for _, e := range parsed.Earnings {
		date, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			c.logger.Printf("Skipping earnings entry for %s with bad date %q: %v", e.Symbol, e.Date, err)
			continue
		}
		events = append(events, EarningsEvent{Symbol: e.Symbol, Date: date, Hour: EarningsHour(e.Hour)})
	}
	return events, nil
}

// ScanUniverse returns the tickers whose earnings land inside the holding
// window for a scan date: after the close on scanDate, or before the open
// on the next trading day. Duplicates are collapsed and output is sorted
// for deterministic scans.
func (c *EarningsClient) ScanUniverse(ctx context.Context, scanDate time.Time) ([]string, error) {
	scanDate = midnight(scanDate)
	nextDay := NextTradingDay(scanDate)

	events, err := c.GetEarnings(ctx, scanDate, nextDay)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var tickers []string
	for _, e := range events {
		eventDay := midnight(e.Date)
		match := (eventDay.Equal(scanDate) && e.Hour == HourAfterClose) ||
			(eventDay.Equal(nextDay) && e.Hour == HourBeforeOpen)
		if !match {
			continue
		}
		if _, ok := seen[e.Symbol]; ok {
			continue
		}
		seen[e.Symbol] = struct{}{}
		tickers = append(tickers, e.Symbol)
	}
	sort.Strings(tickers)
	return tickers, nil
}

// NextTradingDay returns the next weekday after d. Exchange holidays are
// covered by the session check at invocation time, not here.
func NextTradingDay(d time.Time) time.Time {
	next := d.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
