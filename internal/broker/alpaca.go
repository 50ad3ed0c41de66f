// Package broker provides the brokerage API client used for market data,
// account state, and multi-leg option order execution.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/eddiefleurent/earnings_spread/internal/models"
	"github.com/eddiefleurent/earnings_spread/internal/retry"
)

// Order types accepted by the orders endpoint.
const (
	OrderTypeLimit  = "limit"
	OrderTypeMarket = "market"
)

// ErrInsufficientFunds is returned when the brokerage rejects an order for
// lack of buying power. Callers halt the remaining submission batch since
// subsequent orders will fail the same way.
var ErrInsufficientFunds = errors.New("insufficient buying power")

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IsRateLimited reports whether err is an HTTP 429 response, the only
// error class retried automatically.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// Client talks to the Alpaca-compatible trading and market-data APIs.
type Client struct {
	client     *http.Client
	key        string
	secret     string
	tradingURL string
	dataURL    string
	limiter    *rate.Limiter
	retry      retry.Policy
}

// ClientConfig configures a Client. Zero values fall back to paper-trading
// endpoints and conservative pacing.
type ClientConfig struct {
	APIKey            string
	APISecret         string
	TradingURL        string
	DataURL           string
	Paper             bool
	RequestsPerMinute int
	Retry             retry.Policy
	HTTPClient        *http.Client
}

// NewClient creates a brokerage API client.
func NewClient(cfg ClientConfig) *Client {
	tradingURL := cfg.TradingURL
	if tradingURL == "" {
		if cfg.Paper {
			tradingURL = "https://paper-api.alpaca.markets"
		} else {
			tradingURL = "https://api.alpaca.markets"
		}
	}
	dataURL := cfg.DataURL
	if dataURL == "" {
		dataURL = "https://data.alpaca.markets"
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 200
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	retryPolicy := cfg.Retry
	if retryPolicy.MaxRetries == 0 && retryPolicy.InitialBackoff == 0 {
		retryPolicy = retry.DefaultPolicy
	}

	return &Client{
		client:     httpClient,
		key:        cfg.APIKey,
		secret:     cfg.APISecret,
		tradingURL: strings.TrimRight(tradingURL, "/"),
		dataURL:    strings.TrimRight(dataURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), max(1, rpm/10)),
		retry:      retryPolicy,
	}
}

// ============ Wire Structures ============

// Clock is the market clock as reported by the trading API.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type accountResponse struct {
	Status string `json:"status"`
	Equity string `json:"equity"`
}

// Position is a single account holding. Quantities arrive as decimal
// strings on the wire.
type Position struct {
	Symbol     string `json:"symbol"`
	Qty        string `json:"qty"`
	Side       string `json:"side"` // long | short
	AssetClass string `json:"asset_class"`
}

// Quantity returns the position size as a float, 0 on parse failure.
func (p *Position) Quantity() float64 {
	q, err := strconv.ParseFloat(p.Qty, 64)
	if err != nil {
		return 0
	}
	return q
}

// LongOptionLots maps long option positions to whole-contract counts,
// the shape consumed by the covered-short check.
func LongOptionLots(positions []Position) map[string]int {
	lots := make(map[string]int, len(positions))
	for i := range positions {
		p := &positions[i]
		if p.AssetClass != "us_option" || p.Side != "long" {
			continue
		}
		if q := int(p.Quantity()); q > 0 {
			lots[p.Symbol] = q
		}
	}
	return lots
}

// Quote is a single NBBO quote; field names match the wire format.
type Quote struct {
	Bid     float64 `json:"bp"`
	Ask     float64 `json:"ap"`
	BidSize int     `json:"bs"`
	AskSize int     `json:"as"`
}

type latestQuotesResponse struct {
	Quotes map[string]Quote `json:"quotes"`
}

type wireGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

type wireBar struct {
	Timestamp  time.Time `json:"t"`
	Open       float64   `json:"o"`
	High       float64   `json:"h"`
	Low        float64   `json:"l"`
	Close      float64   `json:"c"`
	Volume     int64     `json:"v"`
	TradeCount int64     `json:"n"`
}

type optionSnapshot struct {
	LatestQuote       Quote       `json:"latestQuote"`
	ImpliedVolatility float64     `json:"impliedVolatility"`
	Greeks            *wireGreeks `json:"greeks"`
	DailyBar          *wireBar    `json:"dailyBar"`
}

type chainResponse struct {
	Snapshots     map[string]optionSnapshot `json:"snapshots"`
	NextPageToken *string                   `json:"next_page_token"`
}

// Bar is one daily OHLCV bar.
type Bar struct {
	Date       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
}

type barsResponse struct {
	Bars          []wireBar `json:"bars"`
	NextPageToken *string   `json:"next_page_token"`
}

// StockSnapshot is the subset of the stock snapshot endpoint the screener
// consumes.
type StockSnapshot struct {
	LatestTrade struct {
		Price float64 `json:"p"`
	} `json:"latestTrade"`
	DailyBar *wireBar `json:"dailyBar"`
}

// Price returns the last trade price.
func (s *StockSnapshot) Price() float64 { return s.LatestTrade.Price }

// OrderLeg is one leg of a multi-leg order request.
type OrderLeg struct {
	Symbol         string `json:"symbol"`
	RatioQty       string `json:"ratio_qty"`
	Side           string `json:"side"`
	PositionIntent string `json:"position_intent"`
}

type orderRequest struct {
	OrderClass    string     `json:"order_class"`
	Qty           string     `json:"qty"`
	Type          string     `json:"type"`
	LimitPrice    string     `json:"limit_price,omitempty"`
	TimeInForce   string     `json:"time_in_force"`
	ClientOrderID string     `json:"client_order_id,omitempty"`
	Legs          []OrderLeg `json:"legs"`
}

// Order is an order as reported by the trading API. Legs of a multi-leg
// order come back as nested orders.
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id"`
	Status        string    `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
	OrderClass    string    `json:"order_class"`
	Type          string    `json:"type"`
	Qty           string    `json:"qty"`
	LimitPrice    string    `json:"limit_price"`
	Legs          []Order   `json:"legs,omitempty"`
}

// Limit returns the limit price as a float, 0 for market orders.
func (o *Order) Limit() float64 {
	p, err := strconv.ParseFloat(o.LimitPrice, 64)
	if err != nil {
		return 0
	}
	return p
}

// ============ API Methods ============

// GetAccountEquity returns total account equity in dollars.
func (c *Client) GetAccountEquity(ctx context.Context) (float64, error) {
	var resp accountResponse
	if err := c.makeRequest(ctx, http.MethodGet, c.tradingURL+"/v2/account", nil, &resp); err != nil {
		return 0, err
	}
	equity, err := strconv.ParseFloat(resp.Equity, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing account equity %q: %w", resp.Equity, err)
	}
	return equity, nil
}

// GetClock returns the market clock.
func (c *Client) GetClock(ctx context.Context) (*Clock, error) {
	var clock Clock
	if err := c.makeRequest(ctx, http.MethodGet, c.tradingURL+"/v2/clock", nil, &clock); err != nil {
		return nil, err
	}
	return &clock, nil
}

// GetOpenPositions lists current account holdings.
func (c *Client) GetOpenPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.makeRequest(ctx, http.MethodGet, c.tradingURL+"/v2/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetOptionChain fetches an option-chain snapshot for the underlying,
// bounded by expiration dates and contract type, following pagination.
func (c *Client) GetOptionChain(ctx context.Context, underlying string, gte, lte time.Time, typ models.OptionType) ([]models.OptionContract, error) {
	var contracts []models.OptionContract
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("limit", "1000")
		params.Set("expiration_date_gte", gte.Format("2006-01-02"))
		params.Set("expiration_date_lte", lte.Format("2006-01-02"))
		if typ.Valid() {
			params.Set("type", string(typ))
		}
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}
		endpoint := fmt.Sprintf("%s/v1beta1/options/snapshots/%s?%s", c.dataURL, url.PathEscape(underlying), params.Encode())

		var resp chainResponse
		if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, err
		}

		for symbol, snap := range resp.Snapshots {
			root, exp, parsedType, strike, err := models.ParseOptionSymbol(symbol)
			if err != nil {
				log.Printf("Skipping unparseable option symbol %q: %v", symbol, err)
				continue
			}
			contract := models.OptionContract{
				Symbol:     symbol,
				Underlying: root,
				Expiration: exp,
				Strike:     strike,
				Type:       parsedType,
				Bid:        snap.LatestQuote.Bid,
				Ask:        snap.LatestQuote.Ask,
				BidSize:    snap.LatestQuote.BidSize,
				AskSize:    snap.LatestQuote.AskSize,
				IV:         snap.ImpliedVolatility,
			}
			if snap.Greeks != nil {
				contract.Greeks = &models.Greeks{
					Delta: snap.Greeks.Delta,
					Gamma: snap.Greeks.Gamma,
					Theta: snap.Greeks.Theta,
					Vega:  snap.Greeks.Vega,
				}
			}
			if snap.DailyBar != nil {
				contract.DayVolume = snap.DailyBar.Volume
				contract.DayTradeCount = snap.DailyBar.TradeCount
			}
			contracts = append(contracts, contract)
		}

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			return contracts, nil
		}
		pageToken = *resp.NextPageToken
	}
}

// GetLatestOptionQuotes fetches the latest NBBO for a set of option
// symbols in one comma-joined request.
func (c *Client) GetLatestOptionQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	endpoint := c.dataURL + "/v1beta1/options/quotes/latest?" + params.Encode()

	var resp latestQuotesResponse
	if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Quotes == nil {
		return map[string]Quote{}, nil
	}
	return resp.Quotes, nil
}

// GetStockSnapshot returns the latest trade and daily bar for a stock.
func (c *Client) GetStockSnapshot(ctx context.Context, symbol string) (*StockSnapshot, error) {
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/snapshot", c.dataURL, url.PathEscape(symbol))

	var snap StockSnapshot
	if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetStockBars fetches daily bars for [start, end], following pagination.
func (c *Client) GetStockBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	var bars []Bar
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("timeframe", "1Day")
		params.Set("start", start.Format("2006-01-02"))
		params.Set("end", end.Format("2006-01-02"))
		params.Set("limit", "1000")
		params.Set("adjustment", "split")
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}
		endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.dataURL, url.PathEscape(symbol), params.Encode())

		var resp barsResponse
		if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, err
		}

		for _, b := range resp.Bars {
			bars = append(bars, Bar{
				Date:       b.Timestamp,
				Open:       b.Open,
				High:       b.High,
				Low:        b.Low,
				Close:      b.Close,
				Volume:     b.Volume,
				TradeCount: b.TradeCount,
			})
		}

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			return bars, nil
		}
		pageToken = *resp.NextPageToken
	}
}

// SubmitSpreadOrder submits a calendar spread as a single atomic
// multi-leg order (order_class=mleg). orderType is limit or market; limit
// orders carry the order's LimitPrice. Legs are never split into separate
// single-leg orders.
func (c *Client) SubmitSpreadOrder(ctx context.Context, order models.SpreadOrder, orderType string) (*Order, error) {
	if orderType != OrderTypeLimit && orderType != OrderTypeMarket {
		return nil, fmt.Errorf("invalid order type %q", orderType)
	}
	if orderType == OrderTypeLimit && order.LimitPrice <= 0 {
		return nil, fmt.Errorf("invalid limit price %.2f for %s: must be > 0", order.LimitPrice, order.Underlying)
	}
	if order.Quantity < 1 {
		return nil, fmt.Errorf("invalid quantity %d for %s", order.Quantity, order.Underlying)
	}

	req := orderRequest{
		OrderClass:    "mleg",
		Qty:           strconv.Itoa(order.Quantity),
		Type:          orderType,
		TimeInForce:   "day",
		ClientOrderID: uuid.NewString(),
		Legs:          make([]OrderLeg, 0, len(order.Legs)),
	}
	if orderType == OrderTypeLimit {
		req.LimitPrice = fmt.Sprintf("%.2f", order.LimitPrice)
	}
	for _, leg := range order.Legs {
		req.Legs = append(req.Legs, OrderLeg{
			Symbol:         leg.Symbol,
			RatioQty:       strconv.Itoa(leg.RatioQty),
			Side:           string(leg.Side),
			PositionIntent: string(leg.Intent),
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding order request: %w", err)
	}

	var resp Order
	if err := c.makeRequest(ctx, http.MethodPost, c.tradingURL+"/v2/orders", body, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden &&
			strings.Contains(strings.ToLower(apiErr.Body), "insufficient") {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientFunds, apiErr.Body)
		}
		return nil, err
	}
	return &resp, nil
}

// GetOpenOrders lists all currently open orders.
func (c *Client) GetOpenOrders(ctx context.Context) ([]Order, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("limit", "500")

	var orders []Order
	if err := c.makeRequest(ctx, http.MethodGet, c.tradingURL+"/v2/orders?"+params.Encode(), nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelOrder cancels an open order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	endpoint := fmt.Sprintf("%s/v2/orders/%s", c.tradingURL, url.PathEscape(orderID))
	return c.makeRequest(ctx, http.MethodDelete, endpoint, nil, nil)
}

// ============ Transport ============

// makeRequest performs one API call under the rate limiter, retrying per
// the configured policy only on HTTP 429.
func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body []byte, response interface{}) error {
	return retry.Do(ctx, c.retry, IsRateLimited, func(ctx context.Context) error {
		return c.doOnce(ctx, method, endpoint, body, response)
	})
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, body []byte, response interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if len(body) > 0 {
		req.Header.Add("Content-Type", "application/json")
	}
	req.Header.Add("APCA-API-KEY-ID", c.key)
	req.Header.Add("APCA-API-SECRET-KEY", c.secret)
	req.Header.Add("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if readErr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: string(errBody)}
	}

	if response == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
