package models

import "time"

// Execution is one successfully placed open order.
type Execution struct {
	Exchange   string     `json:"exchange"`
	Option     string     `json:"option"`
	Underlying string     `json:"underlying"`
	OrderID    string     `json:"order_id"`
	Price      float64    `json:"price"`
	Volume     int        `json:"volume"`
	SignalType SignalType `json:"signal_type"`
	Width      float64    `json:"width"`
	ExecutedAt time.Time  `json:"executed_at"`
}

// OptionKey returns the canonical key of the traded option.
func (e Execution) OptionKey() InstrumentKey {
	return NewInstrumentKey(e.Exchange, e.Option)
}
