package models

import "time"

// SignalType labels a ranked signal.
type SignalType string

const (
	// SignalBest is a fully synchronized underlying with the maximum width
	SignalBest SignalType = "best"
	// SignalFullySynced is any other fully synchronized underlying
	SignalFullySynced SignalType = "fully-synced"
	// SignalSubOptimal is a partially synchronized underlying with the maximum width
	SignalSubOptimal SignalType = "sub-optimal"
	// SignalPartiallySynced is any other partially synchronized underlying
	SignalPartiallySynced SignalType = "partially-synced"
)

// Priority orders signal types, lower first.
func (t SignalType) Priority() int {
	switch t {
	case SignalBest:
		return 0
	case SignalFullySynced:
		return 1
	case SignalSubOptimal:
		return 2
	case SignalPartiallySynced:
		return 3
	default:
		return 4
	}
}

// Signal is a ranked, ephemeral trade candidate.
type Signal struct {
	Exchange   string     `json:"exchange"`
	Underlying string     `json:"underlying"`
	Type       SignalType `json:"signal_type"`
	Width      float64    `json:"width"`
	Timestamp  time.Time  `json:"timestamp"`
	Targets    []string   `json:"targets"`
	IsCall     bool       `json:"is_call"`
}

// Key returns the canonical key of the signal's underlying.
func (s Signal) Key() InstrumentKey {
	return NewInstrumentKey(s.Exchange, s.Underlying)
}
