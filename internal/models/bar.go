package models

import "time"

// Bar is one OHLCV sample.
type Bar struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizeBar clamps negative prices to zero and defaults Close to Open.
func NormalizeBar(b Bar) Bar {
	if b.Open < 0 {
		b.Open = 0
	}
	if b.High < 0 {
		b.High = 0
	}
	if b.Low < 0 {
		b.Low = 0
	}
	if b.Close < 0 {
		b.Close = 0
	}
	if b.Volume < 0 {
		b.Volume = 0
	}
	if b.Close == 0 {
		b.Close = b.Open
	}
	return b
}

// TotalVolume sums the volume of the given bars.
func TotalVolume(bars []Bar) float64 {
	total := 0.0
	for _, b := range bars {
		total += b.Volume
	}
	return total
}
