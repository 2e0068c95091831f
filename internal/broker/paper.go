package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaperOrder is an order accepted by the PaperBroker.
type PaperOrder struct {
	ID       string       `json:"id"`
	Request  OrderRequest `json:"request"`
	PlacedAt time.Time    `json:"placed_at"`
}

// PaperBroker accepts every valid order in-process. It is the order sink in
// paper mode.
type PaperBroker struct {
	mu     sync.Mutex
	orders []PaperOrder
	logger *logrus.Entry
}

// NewPaperBroker creates a PaperBroker.
func NewPaperBroker(logger *logrus.Logger) *PaperBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PaperBroker{logger: logger.WithField("component", "paper_broker")}
}

// PlaceOrder records req and returns a fresh order id.
func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	id := uuid.New().String()

	p.mu.Lock()
	p.orders = append(p.orders, PaperOrder{ID: id, Request: req, PlacedAt: time.Now()})
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"order_id":   id,
		"exchange":   req.Exchange,
		"instrument": req.Instrument,
		"direction":  req.Direction,
		"offset":     req.Offset,
		"price":      req.Price,
		"volume":     req.Volume,
	}).Info("Paper order placed")
	return id, nil
}

// Orders returns a copy of all accepted orders.
func (p *PaperBroker) Orders() []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaperOrder(nil), p.orders...)
}
