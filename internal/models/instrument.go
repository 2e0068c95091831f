// Package models holds the data contracts shared by the width engine: bars,
// instrument keys, option descriptors, width results and ranked signals.
package models

import (
	"fmt"
	"strings"
)

// InstrumentKey is the canonical identity of a tradable instrument.
// Always build it with NewInstrumentKey so every cache and map agrees on one spelling.
type InstrumentKey struct {
	Exchange   string `json:"exchange" yaml:"exchange"`
	Instrument string `json:"instrument" yaml:"instrument"`
}

// NewInstrumentKey normalizes exchange and instrument into a canonical key.
// Exchange codes are upper-cased; instrument ids keep their case because
// DCE and CZCE list lower-case product codes.
func NewInstrumentKey(exchange, instrument string) InstrumentKey {
	return InstrumentKey{
		Exchange:   strings.ToUpper(strings.TrimSpace(exchange)),
		Instrument: strings.TrimSpace(instrument),
	}
}

// String renders the key as EXCH.INST.
func (k InstrumentKey) String() string {
	return fmt.Sprintf("%s.%s", k.Exchange, k.Instrument)
}

// IsZero reports whether the key has no instrument.
func (k InstrumentKey) IsZero() bool {
	return k.Instrument == ""
}

// SymbolKey is the exchange-agnostic form of the key, used for quotas that
// must hold across exchange spellings of the same instrument.
func (k InstrumentKey) SymbolKey() string {
	return strings.ToUpper(k.Instrument)
}

// OptionType represents the type of option contract
type OptionType string

const (
	// OptionTypeUnknown is used when the type could not be determined
	OptionTypeUnknown OptionType = ""
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
)

// Valid returns true if the OptionType is call or put
func (t OptionType) Valid() bool {
	return t == OptionTypeCall || t == OptionTypePut
}

// ParseOptionType accepts call/put in the spellings used by instrument feeds.
func ParseOptionType(s string) OptionType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "call", "1":
		return OptionTypeCall
	case "p", "put", "2":
		return OptionTypePut
	default:
		return OptionTypeUnknown
	}
}

// OptionDescriptor describes one listed option contract.
type OptionDescriptor struct {
	Instrument string     `json:"instrument" yaml:"instrument"`
	Exchange   string     `json:"exchange" yaml:"exchange"`
	Underlying string     `json:"underlying" yaml:"underlying"`
	Strike     float64    `json:"strike" yaml:"strike"`
	Type       OptionType `json:"type" yaml:"type"`
}

// Key returns the canonical key for the option.
func (o OptionDescriptor) Key() InstrumentKey {
	return NewInstrumentKey(o.Exchange, o.Instrument)
}

// UnderlyingKind distinguishes futures from grouped option chains.
type UnderlyingKind string

const (
	// KindFuture is a tracked futures contract with its own option chain
	KindFuture UnderlyingKind = "future"
	// KindOptionGroup is an option chain grouped by product prefix, year and month
	KindOptionGroup UnderlyingKind = "option_group"
)
