// Package report renders the signal ranking for operators.
package report

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/config"
	"github.com/eddiefleurent/option_width/internal/models"
)

// Reporter writes the ranking according to the output mode. The mode only
// changes how often and how much is written.
type Reporter struct {
	mu       sync.Mutex
	mode     string
	interval time.Duration
	topN     int
	out      io.Writer
	logger   *logrus.Entry
	lastEmit time.Time
}

// NewReporter creates a Reporter writing to out (stdout when nil).
func NewReporter(mode string, interval time.Duration, topN int, out io.Writer, logger *logrus.Logger) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reporter{
		mode:     mode,
		interval: interval,
		topN:     topN,
		out:      out,
		logger:   logger.WithField("component", "report"),
	}
}

// Emit writes the ranking if the mode allows it at now and reports whether
// anything was written.
func (r *Reporter) Emit(
	signals []models.Signal,
	results map[models.InstrumentKey]models.UnderlyingWidthResult,
	now time.Time,
) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode != config.OutputOpenDebug && !r.lastEmit.IsZero() && now.Sub(r.lastEmit) < r.interval {
		return false
	}

	var text string
	switch r.mode {
	case config.OutputOpenDebug:
		text = fmt.Sprintf("== ranking %s (%d signals, %d underlyings)\n%s",
			now.Format(time.DateTime), len(signals), len(results), Table(signals, results, r.topN, true))
	case config.OutputTrade:
		text = TopLine(signals) + "\n"
	default:
		text = fmt.Sprintf("== ranking %s\n%s", now.Format(time.DateTime), Table(signals, results, r.topN, false))
	}

	if _, err := io.WriteString(r.out, text); err != nil {
		r.logger.WithError(err).Warn("Failed to write ranking")
		return false
	}
	r.lastEmit = now
	return true
}
