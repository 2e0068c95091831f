package models

import "time"

// UnderlyingWidthResult is the per-underlying output of one width calculation.
type UnderlyingWidthResult struct {
	Exchange   string         `json:"exchange"`
	Underlying string         `json:"underlying"`
	Kind       UnderlyingKind `json:"kind"`

	FutureRising  bool    `json:"future_rising"`
	CurrentPrice  float64 `json:"current_price"`
	PreviousPrice float64 `json:"previous_price"`

	SpecifiedCount           int `json:"specified_count"`
	NextSpecifiedCount       int `json:"next_specified_count"`
	TotalSpecifiedTarget     int `json:"total_specified_target"`
	TotalNextSpecifiedTarget int `json:"total_next_specified_target"`
	TotalSpecifiedOTM        int `json:"total_specified_otm"`
	TotalNextSpecifiedOTM    int `json:"total_next_specified_otm"`

	Width               float64 `json:"width"`
	AllSync             bool    `json:"all_sync"`
	HasDirectionOptions bool    `json:"has_direction_options"`

	TopActiveCalls []string `json:"top_active_calls"`
	TopActivePuts  []string `json:"top_active_puts"`

	Timestamp time.Time `json:"timestamp"`
}

// Key returns the canonical key of the underlying.
func (r UnderlyingWidthResult) Key() InstrumentKey {
	return NewInstrumentKey(r.Exchange, r.Underlying)
}

// TotalTarget is the number of OTM options matching the direction across both months.
func (r UnderlyingWidthResult) TotalTarget() int {
	return r.TotalSpecifiedTarget + r.TotalNextSpecifiedTarget
}

// DirectionTargets returns the top actives that match the underlying direction.
func (r UnderlyingWidthResult) DirectionTargets() []string {
	if r.FutureRising {
		return r.TopActiveCalls
	}
	return r.TopActivePuts
}

// WidthAction is what one width calculation asks the orchestrator to do with
// the committed map: replace the entry for Key, or delete it when Delete is set.
type WidthAction struct {
	Key    InstrumentKey
	Result *UnderlyingWidthResult
	Delete bool
}

// Update builds an update action for r.
func Update(r UnderlyingWidthResult) WidthAction {
	return WidthAction{Key: r.Key(), Result: &r}
}

// Tombstone builds a delete action for key.
func Tombstone(key InstrumentKey) WidthAction {
	return WidthAction{Key: key, Delete: true}
}
