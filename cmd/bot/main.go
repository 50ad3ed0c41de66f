// Command bot runs one phase of the earnings calendar-spread strategy:
// scan (screen tonight's earnings tickers), trade (submit spread orders),
// or monitor (manage open orders). Each invocation is a stateless unit of
// work triggered externally; serve runs the read-only status dashboard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/earnings_spread/internal/broker"
	"github.com/eddiefleurent/earnings_spread/internal/calendar"
	"github.com/eddiefleurent/earnings_spread/internal/chains"
	"github.com/eddiefleurent/earnings_spread/internal/config"
	"github.com/eddiefleurent/earnings_spread/internal/dashboard"
	"github.com/eddiefleurent/earnings_spread/internal/monitor"
	"github.com/eddiefleurent/earnings_spread/internal/retry"
	"github.com/eddiefleurent/earnings_spread/internal/screener"
	"github.com/eddiefleurent/earnings_spread/internal/storage"
)

// PhaseResult is the machine-readable outcome of one invocation, printed
// as JSON on stdout for whatever triggered the run.
type PhaseResult struct {
	Status string         `json:"status"` // success | skipped | error
	Reason string         `json:"reason,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`
}

const (
	statusSuccess = "success"
	statusSkipped = "skipped"
	statusError   = "error"
)

// App holds the wired dependencies shared by the phases.
type App struct {
	cfg      *config.Config
	broker   broker.Broker
	storage  storage.Interface
	earnings *calendar.EarningsClient
	market   calendar.MarketCalendarService
	selector *chains.Selector
	logger   *log.Logger
}

func main() {
	var (
		configPath string
		phase      string
		dateArg    string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&phase, "phase", "", "Phase to run: scan, trade, monitor, or serve")
	flag.StringVar(&dateArg, "date", "", "Scan date YYYY-MM-DD (default: today in exchange time)")
	flag.Parse()

	logger := log.New(os.Stderr, "[BOT] ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		emit(PhaseResult{Status: statusError, Reason: fmt.Sprintf("config: %v", err)})
		os.Exit(1)
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		emit(PhaseResult{Status: statusError, Reason: err.Error()})
		os.Exit(1)
	}

	scanDate, err := resolveDate(dateArg, cfg.ExchangeLocation())
	if err != nil {
		emit(PhaseResult{Status: statusError, Reason: fmt.Sprintf("date: %v", err)})
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var result PhaseResult
	switch phase {
	case "scan":
		result = app.runGated(ctx, scanDate, app.runScan)
	case "trade":
		result = app.runGated(ctx, scanDate, app.runTrade)
	case "monitor":
		result = app.runGated(ctx, scanDate, app.runMonitor)
	case "serve":
		result = app.serve(ctx)
	default:
		result = PhaseResult{Status: statusError, Reason: fmt.Sprintf("unknown phase %q", phase)}
	}

	emit(result)
	if result.Status == statusError {
		os.Exit(1)
	}
}

func newApp(cfg *config.Config, logger *log.Logger) (*App, error) {
	client := broker.NewClient(broker.ClientConfig{
		APIKey:            cfg.Broker.APIKey,
		APISecret:         cfg.Broker.APISecret,
		TradingURL:        cfg.Broker.TradingEndpoint,
		DataURL:           cfg.Broker.DataEndpoint,
		Paper:             cfg.IsPaperTrading(),
		RequestsPerMinute: cfg.Broker.RequestsPerMinute,
		Retry: retry.Policy{
			MaxRetries:     cfg.Broker.RetryAttempts,
			InitialBackoff: cfg.GetRetryBackoff(),
		},
	})

	st, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	b := broker.NewCircuitBreakerBroker(client)
	return &App{
		cfg:      cfg,
		broker:   b,
		storage:  st,
		earnings: calendar.NewEarningsClient(cfg.Calendar.Endpoint, cfg.Calendar.APIKey, logger),
		market:   calendar.NewClockCalendar(b, cfg.ExchangeLocation()),
		selector: chains.NewSelector(chains.SelectorConfig{
			LookaheadDays: cfg.Spread.LookaheadDays,
			TargetFarDTE:  cfg.Spread.TargetFarDTE,
		}),
		logger: logger,
	}, nil
}

// runGated checks the market session before running a phase; anything but
// a normal session skips the invocation.
func (a *App) runGated(ctx context.Context, scanDate time.Time, phase func(context.Context, time.Time) PhaseResult) PhaseResult {
	status, err := a.market.SessionStatus(ctx, scanDate)
	if err != nil {
		return PhaseResult{Status: statusSkipped, Reason: fmt.Sprintf("market status unavailable: %v", err)}
	}
	if !status.Tradable() {
		return PhaseResult{Status: statusSkipped, Reason: fmt.Sprintf("session is %s", status)}
	}
	return phase(ctx, scanDate)
}

// serve runs the dashboard until interrupted.
func (a *App) serve(ctx context.Context) PhaseResult {
	if !a.cfg.Dashboard.Enabled {
		return PhaseResult{Status: statusSkipped, Reason: "dashboard disabled"}
	}

	srv := dashboard.NewServer(dashboard.Config{
		Port:     a.cfg.Dashboard.Port,
		Location: a.cfg.ExchangeLocation(),
	}, a.storage, a.broker, logrusFromConfig(a.cfg))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return PhaseResult{Status: statusError, Reason: err.Error()}
		}
		return PhaseResult{Status: statusSuccess}
	case err := <-errCh:
		return PhaseResult{Status: statusError, Reason: err.Error()}
	}
}

func (a *App) newScanner() *screener.Scanner {
	provider := screener.NewMarketProvider(a.broker, a.earnings, a.storage, a.selector, a.logger)
	pipeline := screener.NewPipeline(provider, a.cfg.Screener, a.cfg.Allocation, a.logger)
	allocator := screener.NewAllocator(a.cfg.Allocation.PortfolioCapPct)
	return screener.NewScanner(pipeline, allocator, a.cfg.Screener.Concurrency, a.logger)
}

func (a *App) newMonitor() *monitor.Monitor {
	policy := monitor.Policy{
		DriftThreshold: a.cfg.Monitor.DriftThresholdPct / 100,
		RepriceWindow:  a.cfg.GetRepriceWindow(),
		CancelWindow:   a.cfg.GetCancelWindow(),
		Window:         monitor.DefaultPolicy.Window,
		ExitDiscount:   a.cfg.Monitor.ExitDiscount,
	}
	return monitor.NewMonitor(a.broker, a.storage, policy, a.logger)
}

func resolveDate(arg string, loc *time.Location) (time.Time, error) {
	if arg == "" {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}
	d, err := time.ParseInLocation("2006-01-02", arg, loc)
	if err != nil {
		return time.Time{}, err
	}
	return d, nil
}

func logrusFromConfig(cfg *config.Config) *logrus.Logger {
	l := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		l.SetLevel(level)
	}
	return l
}

func emit(result PhaseResult) {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(result); err != nil {
		log.Printf("Failed to encode phase result: %v", err)
	}
}
