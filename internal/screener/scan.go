package screener

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/earnings_spread/internal/models"
)

// Scanner runs the pipeline across a ticker universe with bounded
// concurrency and applies the portfolio allocation afterwards.
type Scanner struct {
	pipeline    *Pipeline
	allocator   *Allocator
	concurrency int
	logger      *log.Logger
}

// NewScanner creates a Scanner. concurrency bounds parallel ticker
// evaluations; it is sized to stay under the data API's per-minute limit.
func NewScanner(pipeline *Pipeline, allocator *Allocator, concurrency int, logger *log.Logger) *Scanner {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{pipeline: pipeline, allocator: allocator, concurrency: concurrency, logger: logger}
}

// Scan evaluates every ticker and returns the allocated candidate set.
// A ticker whose data is unavailable is logged and dropped; it never
// fails the scan. Allocation only runs after all evaluations join.
func (s *Scanner) Scan(ctx context.Context, tickers []string, scanDate time.Time) ([]models.Candidate, error) {
	results := make([]*models.Candidate, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, ticker := range tickers {
		i, ticker := i, ticker
		g.Go(func() error {
			cand, err := s.pipeline.Evaluate(gctx, ticker, scanDate)
			if err != nil {
				s.logger.Printf("Skipping %s: %v", ticker, err)
				return nil
			}
			results[i] = &cand
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(results))
	for _, c := range results {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	return s.allocator.Allocate(candidates), nil
}
