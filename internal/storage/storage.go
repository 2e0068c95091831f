// Package storage persists the execution journal.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddiefleurent/option_width/internal/models"
)

// DefaultMaxEntries bounds the journal; the oldest executions are dropped first.
const DefaultMaxEntries = 5000

// JSONJournal stores executions in a JSON file, rewritten atomically on
// every change.
type JSONJournal struct {
	mu         sync.RWMutex
	path       string
	maxEntries int
	data       *journalData
}

type journalData struct {
	Executions  []models.Execution `json:"executions"`
	LastUpdated time.Time          `json:"last_updated"`
}

// NewJSONJournal opens the journal at path, loading it if the file exists.
func NewJSONJournal(path string) (*JSONJournal, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	j := &JSONJournal{
		path:       path,
		maxEntries: DefaultMaxEntries,
		data:       &journalData{},
	}
	if err := j.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading journal: %w", err)
	}
	return j, nil
}

// Load replaces the in-memory journal with the file contents.
func (j *JSONJournal) Load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	raw, err := os.ReadFile(j.path)
	if err != nil {
		return err
	}
	var data journalData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decoding %s: %w", j.path, err)
	}
	j.data = &data
	return nil
}

// Save writes the journal to disk.
func (j *JSONJournal) Save() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.saveLocked()
}

func (j *JSONJournal) saveLocked() error {
	j.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(j.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Write to temp file first
	tmpFile := j.path + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, j.path)
}

// RecordExecution appends e and saves.
func (j *JSONJournal) RecordExecution(e models.Execution) error {
	if err := validate(e); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data.Executions = append(j.data.Executions, e)
	if over := len(j.data.Executions) - j.maxEntries; over > 0 {
		j.data.Executions = append([]models.Execution(nil), j.data.Executions[over:]...)
	}
	return j.saveLocked()
}

// Executions returns a copy of the retained executions.
func (j *JSONJournal) Executions() []models.Execution {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]models.Execution(nil), j.data.Executions...)
}

// LastOpens returns the latest execution time per option since the given time.
func (j *JSONJournal) LastOpens(since time.Time) map[models.InstrumentKey]time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return lastOpens(j.data.Executions, since)
}

// Statistics summarizes the journal.
func (j *JSONJournal) Statistics() Statistics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return summarize(j.data.Executions)
}
