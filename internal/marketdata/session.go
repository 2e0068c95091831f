package marketdata

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/option_width/internal/config"
	"github.com/eddiefleurent/option_width/internal/models"
)

type window struct {
	start int // minutes after midnight
	end   int
}

func (w window) length() time.Duration {
	d := w.end - w.start
	if d <= 0 {
		d += 24 * 60
	}
	return time.Duration(d) * time.Minute
}

// Sessions is the exchange trading calendar: daily session windows on
// weekdays, in the exchange timezone. A window whose end is before its start
// crosses midnight and belongs to the trading day it starts on.
//
// A nil or empty Sessions treats the market as always open.
type Sessions struct {
	loc     *time.Location
	windows []window
}

// NewSessions parses "HH:MM-HH:MM" windows.
func NewSessions(loc *time.Location, specs []string) (*Sessions, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Sessions{loc: loc}
	for _, spec := range specs {
		start, end, err := config.ParseSessionWindow(spec)
		if err != nil {
			return nil, fmt.Errorf("parsing sessions: %w", err)
		}
		s.windows = append(s.windows, window{start: start, end: end})
	}
	return s, nil
}

// InSession reports whether t falls inside a trading session.
func (s *Sessions) InSession(t time.Time) bool {
	if s == nil || len(s.windows) == 0 {
		return true
	}
	local := t.In(s.loc)
	// yesterday's night session may still be running
	for d := -1; d <= 0; d++ {
		day := startOfDay(local).AddDate(0, 0, d)
		if !isTradingDay(day) {
			continue
		}
		for _, w := range s.windows {
			start := day.Add(time.Duration(w.start) * time.Minute)
			end := start.Add(w.length())
			if !local.Before(start) && local.Before(end) {
				return true
			}
		}
	}
	return false
}

// LastSessionEnd returns the end of the most recently completed session at or
// before t.
func (s *Sessions) LastSessionEnd(t time.Time) (time.Time, bool) {
	if s == nil || len(s.windows) == 0 {
		return time.Time{}, false
	}
	local := t.In(s.loc)
	var best time.Time
	found := false
	// a week back always contains a weekday
	for d := 0; d >= -8; d-- {
		day := startOfDay(local).AddDate(0, 0, d)
		if !isTradingDay(day) {
			continue
		}
		for _, w := range s.windows {
			end := day.Add(time.Duration(w.start) * time.Minute).Add(w.length())
			if end.After(local) {
				continue
			}
			if !found || end.After(best) {
				best = end
				found = true
			}
		}
	}
	return best, found
}

// PreviousClose selects the previous price from a bar series.
//
// In session it is the second-to-last bar, unavailable (0) when that bar has
// no volume yet. Out of session it is the last bar before the final one whose
// timestamp is at or before the end of the most recently completed session.
// Fewer than two bars yields 0.
func (s *Sessions) PreviousClose(bars []models.Bar, now time.Time) float64 {
	n := len(bars)
	if n < 2 {
		return 0
	}
	if s.InSession(now) {
		prev := bars[n-2]
		if prev.Volume <= 0 {
			return 0
		}
		return prev.Close
	}
	end, ok := s.LastSessionEnd(now)
	if !ok {
		return bars[n-2].Close
	}
	for i := n - 2; i >= 0; i-- {
		if !bars[i].Timestamp.After(end) {
			return bars[i].Close
		}
	}
	return 0
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func isTradingDay(day time.Time) bool {
	wd := day.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
