// Package broker talks to the trading platform's gateway: bar history,
// fallback prices and order routing.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/models"
)

// ErrNoPrice is returned when the gateway has no usable fallback price.
var ErrNoPrice = errors.New("no fallback price available")

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

const defaultTimeout = 10 * time.Second

// Gateway is the HTTP JSON client for the platform gateway.
type Gateway struct {
	client  *http.Client
	apiKey  string
	baseURL string
	logger  *logrus.Entry
}

// NewGateway creates a Gateway. A zero timeout uses 10s.
func NewGateway(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gateway{
		client:  &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.WithField("component", "gateway"),
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (g *Gateway) WithHTTPClient(c *http.Client) *Gateway {
	if c != nil {
		g.client = c
	}
	return g
}

// ============ Wire structures ============

// singleOrArray accepts either a single object or an array
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// BarItem is one OHLCV bar as the gateway sends it.
type BarItem struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"datetime"`
}

// Bar converts the wire bar to a normalized model bar.
func (b BarItem) Bar() models.Bar {
	return models.NormalizeBar(models.Bar{
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
		Timestamp: b.Timestamp,
	})
}

// BarsResponse is the bar history payload.
type BarsResponse struct {
	Bars singleOrArray[BarItem] `json:"bars"`
}

// QuoteItem holds the fallback price fields of a quote.
type QuoteItem struct {
	Exchange      string  `json:"exchange"`
	Instrument    string  `json:"instrument"`
	Last          float64 `json:"last"`
	PreSettlement float64 `json:"pre_settlement"`
	PreClose      float64 `json:"pre_close"`
}

// QuoteResponse is the quote payload.
type QuoteResponse struct {
	Quote QuoteItem `json:"quote"`
}

// OrderResponse is the order routing payload.
type OrderResponse struct {
	Order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
}

// ============ Endpoints ============

// FetchBars returns up to limit most recent bars for key, oldest first.
func (g *Gateway) FetchBars(ctx context.Context, key models.InstrumentKey, limit int) ([]models.Bar, error) {
	params := url.Values{}
	params.Set("exchange", key.Exchange)
	params.Set("instrument", key.Instrument)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp BarsResponse
	if err := g.makeRequestCtx(ctx, http.MethodGet, g.baseURL+"/bars", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching bars for %s: %w", key, err)
	}

	bars := make([]models.Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		bars = append(bars, b.Bar())
	}
	return bars, nil
}

// GetQuote returns the latest quote for key.
func (g *Gateway) GetQuote(ctx context.Context, key models.InstrumentKey) (*QuoteItem, error) {
	params := url.Values{}
	params.Set("exchange", key.Exchange)
	params.Set("instrument", key.Instrument)

	var resp QuoteResponse
	if err := g.makeRequestCtx(ctx, http.MethodGet, g.baseURL+"/quote", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching quote for %s: %w", key, err)
	}
	return &resp.Quote, nil
}

// BackupPrice returns the last tick price, else the previous settlement,
// else the previous close.
func (g *Gateway) BackupPrice(ctx context.Context, key models.InstrumentKey) (float64, error) {
	q, err := g.GetQuote(ctx, key)
	if err != nil {
		return 0, err
	}
	for _, p := range []float64{q.Last, q.PreSettlement, q.PreClose} {
		if p > 0 {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", key, ErrNoPrice)
}

// PlaceOrder routes a single-leg order and returns the platform order id.
func (g *Gateway) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("exchange", req.Exchange)
	params.Set("instrument", req.Instrument)
	params.Set("direction", string(req.Direction))
	params.Set("offset", string(req.Offset))
	params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	params.Set("volume", strconv.Itoa(req.Volume))
	params.Set("price_type", string(req.PriceType))
	if req.Tag != "" {
		params.Set("tag", req.Tag)
	}

	var resp OrderResponse
	if err := g.makeRequestCtx(ctx, http.MethodPost, g.baseURL+"/orders", params, &resp); err != nil {
		return "", fmt.Errorf("placing order for %s.%s: %w", req.Exchange, req.Instrument, err)
	}
	if resp.Order.ID == "" {
		return "", fmt.Errorf("placing order for %s.%s: gateway returned no order id (status %q)",
			req.Exchange, req.Instrument, resp.Order.Status)
	}
	return resp.Order.ID, nil
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation
func (g *Gateway) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, response interface{}) error {
	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	if g.apiKey != "" {
		req.Header.Add("Authorization", "Bearer "+g.apiKey)
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "option-width/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.WithError(err).Debug("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
