package storage

import (
	"time"

	"github.com/eddiefleurent/option_width/internal/models"
)

// Interface defines the contract for the execution journal.
//
// Implementations must be safe for concurrent use.
type Interface interface {
	// RecordExecution appends e and persists the journal.
	RecordExecution(e models.Execution) error
	// Executions returns all retained executions, oldest first.
	Executions() []models.Execution
	// LastOpens returns the latest execution time per option at or after since.
	LastOpens(since time.Time) map[models.InstrumentKey]time.Time
	// Statistics summarizes the journal.
	Statistics() Statistics

	// Data persistence
	Save() error
	Load() error
}

// Statistics is a summary of recorded executions.
type Statistics struct {
	TotalOpens    int            `json:"total_opens"`
	PerUnderlying map[string]int `json:"per_underlying"`
	LastExecution time.Time      `json:"last_execution"`
}

// NewStorage creates the journal implementation (currently JSON-based).
func NewStorage(path string) (Interface, error) {
	return NewJSONJournal(path)
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONJournal)(nil)
	_ Interface = (*MockJournal)(nil)
)

func validate(e models.Execution) error {
	if e.Exchange == "" || e.Option == "" || e.OrderID == "" {
		return ErrInvalidExecution
	}
	return nil
}

func lastOpens(execs []models.Execution, since time.Time) map[models.InstrumentKey]time.Time {
	out := make(map[models.InstrumentKey]time.Time)
	for _, e := range execs {
		if e.ExecutedAt.Before(since) {
			continue
		}
		key := e.OptionKey()
		if e.ExecutedAt.After(out[key]) {
			out[key] = e.ExecutedAt
		}
	}
	return out
}

func summarize(execs []models.Execution) Statistics {
	stats := Statistics{PerUnderlying: make(map[string]int)}
	for _, e := range execs {
		stats.TotalOpens++
		stats.PerUnderlying[models.NewInstrumentKey(e.Exchange, e.Underlying).String()]++
		if e.ExecutedAt.After(stats.LastExecution) {
			stats.LastExecution = e.ExecutedAt
		}
	}
	return stats
}
