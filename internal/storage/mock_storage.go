package storage

import (
	"sync"
	"time"

	"github.com/eddiefleurent/option_width/internal/models"
)

// MockJournal implements Interface in memory for testing
type MockJournal struct {
	mu            sync.Mutex
	executions    []models.Execution
	recordError   error
	saveError     error
	loadError     error
	saveCallCount int
}

// NewMockJournal creates a new mock journal for testing
func NewMockJournal(seed ...models.Execution) *MockJournal {
	return &MockJournal{executions: append([]models.Execution(nil), seed...)}
}

// SetRecordError makes RecordExecution fail with err.
func (m *MockJournal) SetRecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordError = err
}

// SetSaveError makes Save fail with err.
func (m *MockJournal) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// RecordExecution appends e unless a record error is configured.
func (m *MockJournal) RecordExecution(e models.Execution) error {
	if err := validate(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordError != nil {
		return m.recordError
	}
	m.executions = append(m.executions, e)
	return nil
}

// Executions returns a copy of recorded executions.
func (m *MockJournal) Executions() []models.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Execution(nil), m.executions...)
}

// LastOpens returns the latest execution time per option since the given time.
func (m *MockJournal) LastOpens(since time.Time) map[models.InstrumentKey]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lastOpens(m.executions, since)
}

// Statistics summarizes recorded executions.
func (m *MockJournal) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return summarize(m.executions)
}

// Save counts calls and returns the configured error.
func (m *MockJournal) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	return m.saveError
}

// Load returns the configured error.
func (m *MockJournal) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadError
}

// SaveCallCount returns how many times Save was called.
func (m *MockJournal) SaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}
