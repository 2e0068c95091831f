// Package retry re-sends orders that failed for transient reasons.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/broker"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig keeps the whole retry loop well inside one cycle.
var DefaultConfig = Config{
	MaxRetries:     2,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Timeout:        15 * time.Second,
}

// Client wraps an OrderPlacer with bounded retries.
type Client struct {
	placer broker.OrderPlacer
	logger *logrus.Entry
	config Config
}

// NewClient creates a Client. The optional config replaces DefaultConfig.
func NewClient(placer broker.OrderPlacer, logger *logrus.Logger, config ...Config) *Client {
	if placer == nil {
		panic("retry.NewClient: placer must not be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = sanitize(config[0])
	}

	return &Client{
		placer: placer,
		logger: logger.WithField("component", "order_retry"),
		config: cfg,
	}
}

// sanitize replaces unusable values with their defaults.
func sanitize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	return cfg
}

// PlaceOrder implements broker.OrderPlacer.
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	return c.PlaceOrderWithRetry(ctx, req)
}

// PlaceOrderWithRetry sends req, retrying transient failures with jittered
// exponential backoff. Permanent rejections return immediately.
func (c *Client) PlaceOrderWithRetry(ctx context.Context, req broker.OrderRequest) (string, error) {
	placeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff
	log := c.logger.WithFields(logrus.Fields{
		"exchange":   req.Exchange,
		"instrument": req.Instrument,
	})

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		if placeCtx.Err() != nil {
			return "", fmt.Errorf("order timed out after %v: %w", c.config.Timeout, placeCtx.Err())
		}

		log.Debugf("Order attempt %d/%d", attempt+1, c.config.MaxRetries+1)

		orderID, err := c.placer.PlaceOrder(placeCtx, req)
		if err == nil {
			log.WithField("order_id", orderID).Debugf("Order placed on attempt %d", attempt+1)
			return orderID, nil
		}

		lastErr = err
		log.WithError(err).Warnf("Order attempt %d failed", attempt+1)

		if !isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		log.Debugf("Transient error detected, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-ctx.Done():
			return "", fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		case <-placeCtx.Done():
			return "", fmt.Errorf("order timed out during backoff: %w", placeCtx.Err())
		}
	}

	return "", fmt.Errorf("failed to place order after retries: %w", lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Debug("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if broker.IsPermanentAPIError(err) {
		return false
	}
	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"network",
		"dns",
		"tcp",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
