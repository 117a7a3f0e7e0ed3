package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// GuardConfig bounds how hard an Extractor's backend is driven
type GuardConfig struct {
	Name string
	// RequestsPerMinute of zero disables rate limiting
	RequestsPerMinute int
	Burst             int
	// FailureThreshold is the number of consecutive backend failures that opens the breaker.
	// Zero disables the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before letting a probe through
	OpenTimeout time.Duration
}

type guardedExtractor struct {
	next    Extractor
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*ReceiptDraft]
}

// Guard wraps an Extractor with a request rate limit and a circuit breaker.
// Errors from the guard itself still wrap ErrExtractionFailed.
func Guard(next Extractor, cfg GuardConfig) Extractor {
	g := &guardedExtractor{next: next, name: cfg.Name}
	if g.name == "" {
		g.name = "extractor"
	}

	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}

	if cfg.FailureThreshold > 0 {
		threshold := cfg.FailureThreshold
		g.breaker = gobreaker.NewCircuitBreaker[*ReceiptDraft](gobreaker.Settings{
			Name:        g.name,
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, errUnreadableImage) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("Extractor circuit breaker changed state", "name", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return g
}

func (g *guardedExtractor) Extract(ctx context.Context, imageData []byte, contentType string) (*ReceiptDraft, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, extractionError(g.name, fmt.Errorf("rate limit: %w", err))
		}
	}

	if g.breaker == nil {
		return g.next.Extract(ctx, imageData, contentType)
	}

	draft, err := g.breaker.Execute(func() (*ReceiptDraft, error) {
		return g.next.Extract(ctx, imageData, contentType)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, extractionError(g.name, err)
	}
	return draft, err
}

func (g *guardedExtractor) Close() error {
	return g.next.Close()
}
