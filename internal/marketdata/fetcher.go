package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/option_width/internal/models"
)

// BreakerSettings configures circuit breaker behavior
type BreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultBreakerSettings trips after 60% failures over at least 5 requests.
var DefaultBreakerSettings = BreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// BreakerFetcher wraps a Fetcher with circuit breaker functionality so a dead
// upstream does not eat the cycle deadline.
type BreakerFetcher struct {
	fetcher Fetcher
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerFetcher creates a BreakerFetcher.
func NewBreakerFetcher(fetcher Fetcher, settings BreakerSettings, logger *logrus.Logger) *BreakerFetcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "BarFetchCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// a cancelled cycle says nothing about upstream health
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("Circuit breaker state changed")
		},
	}
	return &BreakerFetcher{
		fetcher: fetcher,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// FetchBars wraps the underlying fetch with the circuit breaker
func (b *BreakerFetcher) FetchBars(ctx context.Context, key models.InstrumentKey, limit int) ([]models.Bar, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.fetcher.FetchBars(ctx, key, limit)
	})
	if err != nil {
		return nil, err
	}
	bars, _ := res.([]models.Bar)
	return bars, nil
}

// State returns the breaker state.
func (b *BreakerFetcher) State() gobreaker.State {
	return b.breaker.State()
}
