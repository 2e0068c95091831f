package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Direction is the side of an order.
type Direction string

// Offset says whether an order opens or closes a position.
type Offset string

// PriceType is the order price instruction.
type PriceType string

const (
	// DirectionBuy buys the instrument
	DirectionBuy Direction = "buy"
	// DirectionSell sells the instrument
	DirectionSell Direction = "sell"

	// OffsetOpen opens a new position
	OffsetOpen Offset = "open"
	// OffsetClose closes an existing position
	OffsetClose Offset = "close"

	// PriceTypeLimit sends a limit order at Price
	PriceTypeLimit PriceType = "limit"
	// PriceTypeMarket sends a market order; Price is informational
	PriceTypeMarket PriceType = "market"
)

// OrderRequest is a single-leg order for the platform's order router.
type OrderRequest struct {
	Exchange   string    `json:"exchange"`
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Offset     Offset    `json:"offset"`
	Price      float64   `json:"price"`
	Volume     int       `json:"volume"`
	PriceType  PriceType `json:"price_type"`
	Tag        string    `json:"tag,omitempty"`
}

// Validate checks the request before it is sent.
func (r OrderRequest) Validate() error {
	switch {
	case r.Exchange == "" || r.Instrument == "":
		return errors.New("order: exchange and instrument are required")
	case r.Volume <= 0:
		return errors.New("order: volume must be positive")
	case r.PriceType == PriceTypeLimit && r.Price <= 0:
		return errors.New("order: limit price must be positive")
	case r.Direction != DirectionBuy && r.Direction != DirectionSell:
		return errors.New("order: invalid direction")
	case r.Offset != OffsetOpen && r.Offset != OffsetClose:
		return errors.New("order: invalid offset")
	}
	return nil
}

// OrderPlacer sends orders to the order router and returns the order id.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
}

// IsPermanentAPIError reports whether err is a client error that retrying
// will not fix.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// 4xx except 429 Too Many Requests
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// Ensure implementations satisfy OrderPlacer at compile time.
var (
	_ OrderPlacer = (*Gateway)(nil)
	_ OrderPlacer = (*PaperBroker)(nil)
	_ OrderPlacer = (*CircuitBreakerPlacer)(nil)
)

// CircuitBreakerPlacer wraps an OrderPlacer with circuit breaker functionality
type CircuitBreakerPlacer struct {
	placer  OrderPlacer
	breaker *gobreaker.CircuitBreaker
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	placer OrderPlacer,
	fn func(OrderPlacer) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(placer) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings returns the settings used for the live order router.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	}
}

// NewCircuitBreakerPlacer creates a CircuitBreakerPlacer with custom settings
func NewCircuitBreakerPlacer(placer OrderPlacer, settings CircuitBreakerSettings, logger *logrus.Logger) *CircuitBreakerPlacer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "OrderCircuitBreaker",
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
		// rejected orders say nothing about router health
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanentAPIError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CircuitBreakerPlacer{
		placer:  placer,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// PlaceOrder wraps the underlying placer call with circuit breaker
func (c *CircuitBreakerPlacer) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	return execCircuitBreaker(c.breaker, c.placer, func(p OrderPlacer) (string, error) {
		return p.PlaceOrder(ctx, req)
	})
}

// State returns the breaker state.
func (c *CircuitBreakerPlacer) State() gobreaker.State {
	return c.breaker.State()
}
