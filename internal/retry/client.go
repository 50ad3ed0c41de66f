// Package retry implements the bounded retry policy applied to brokerage
// and data-provider calls. Backoff parameters are policy inputs rather
// than hard-coded so rate-limit handling can be tuned per deployment.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"
)

// Policy bounds retry behavior for a single logical call.
type Policy struct {
	MaxRetries     int           // extra attempts after the first
	InitialBackoff time.Duration // delay before the first retry
	MaxBackoff     time.Duration // backoff growth ceiling
}

// DefaultPolicy performs a single immediate retry with a short fixed
// backoff, the conservative stance for rate-limited endpoints.
var DefaultPolicy = Policy{
	MaxRetries:     1,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     30 * time.Second,
}

// Do invokes fn, retrying up to p.MaxRetries times when retryable returns
// true for the error. Context cancellation aborts the backoff wait.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(context.Context) error) error {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultPolicy.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultPolicy.MaxBackoff
	}

	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("operation canceled: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == p.MaxRetries || retryable == nil || !retryable(lastErr) {
			return lastErr
		}

		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, p.MaxBackoff)
		case <-ctx.Done():
			return fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		}
	}

	return lastErr
}

// nextBackoff grows the delay by 1.5x with up to 25% jitter, capped at max.
func nextBackoff(current, max time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > max {
		backoff = max
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// IsTransient reports whether an error looks like a recoverable network or
// rate-limit failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
