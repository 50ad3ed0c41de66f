// Package dashboard serves a read-only JSON status API over the bot's day
// state. It never mutates storage or places orders.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/earnings_spread/internal/broker"
	"github.com/eddiefleurent/earnings_spread/internal/models"
	"github.com/eddiefleurent/earnings_spread/internal/storage"
)

// Server exposes the status API.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	storage storage.Interface
	broker  broker.Broker
	logger  *logrus.Logger
	port    int
	loc     *time.Location
}

// Config configures the dashboard server.
type Config struct {
	Port     int
	Location *time.Location // exchange timezone for scan-date defaults
}

// OrderView is one tracked order as reported by the API.
type OrderView struct {
	OrderID    string           `json:"order_id"`
	Ticker     string           `json:"ticker"`
	TradeType  models.TradeType `json:"trade_type"`
	LimitPrice float64          `json:"limit_price"`
	Submitted  time.Time        `json:"submitted_at"`
	AgeSeconds int              `json:"age_seconds"`
}

// StatusView summarizes account and day state.
type StatusView struct {
	Equity        float64   `json:"equity"`
	MarketOpen    bool      `json:"market_open"`
	TrackedOrders int       `json:"tracked_orders"`
	LastUpdate    time.Time `json:"last_update"`
}

// NewServer creates the dashboard server.
func NewServer(cfg Config, st storage.Interface, b broker.Broker, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Server{
		router:  chi.NewRouter(),
		storage: st,
		broker:  b,
		logger:  logger,
		port:    cfg.Port,
		loc:     loc,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/api/candidates", s.handleGetCandidates)
	s.router.Get("/api/orders", s.handleGetOrders)
	s.router.Get("/api/status", s.handleGetStatus)
	s.router.Get("/health", s.handleHealth)
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleGetCandidates returns the candidates for a scan date, defaulting
// to today in the exchange timezone. Pass ?date=YYYY-MM-DD for others.
func (s *Server) handleGetCandidates(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().In(s.loc).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, s.storage.GetCandidates(date))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	orders := s.storage.TrackedOrders()

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, OrderView{
			OrderID:    o.OrderID,
			Ticker:     o.Ticker,
			TradeType:  o.TradeType,
			LimitPrice: o.LimitPrice,
			Submitted:  o.SubmittedAt,
			AgeSeconds: int(o.Elapsed(now).Seconds()),
		})
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status := StatusView{
		TrackedOrders: len(s.storage.TrackedOrders()),
		LastUpdate:    time.Now().UTC(),
	}

	equity, err := s.broker.GetAccountEquity(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("Failed to get account equity")
	} else {
		status.Equity = equity
	}

	clock, err := s.broker.GetClock(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("Failed to get market clock")
	} else {
		status.MarketOpen = clock.IsOpen
	}

	s.writeJSON(w, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
