package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stackstatus/internal/models"
)

// ProbeStorage keeps a bounded probe history on disk.
type ProbeStorage struct {
	mu      sync.RWMutex
	path    string
	limit   int
	history []models.ProbeRecord
}

// NewProbeStorage creates a storage instance and loads existing history if present.
// A non-positive limit keeps every record.
func NewProbeStorage(path string, limit int) (*ProbeStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}

	s := &ProbeStorage{path: path, limit: limit}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append adds a record, trims the oldest beyond the limit and persists to disk.
func (s *ProbeStorage) Append(record models.ProbeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, record)
	s.trimLocked()
	return s.persistLocked()
}

// Latest returns the newest record if it exists.
func (s *ProbeStorage) Latest() (models.ProbeRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return models.ProbeRecord{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of the entire history slice.
func (s *ProbeStorage) History() []models.ProbeRecord {
	return s.HistoryN(0)
}

// HistoryN returns a copy of the newest n records, oldest first. n <= 0 returns everything.
func (s *ProbeStorage) HistoryN(n int) []models.ProbeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && len(s.history) > n {
		start = len(s.history) - n
	}
	copied := make([]models.ProbeRecord, len(s.history)-start)
	copy(copied, s.history[start:])
	return copied
}

func (s *ProbeStorage) trimLocked() {
	if s.limit <= 0 || len(s.history) <= s.limit {
		return
	}
	trimmed := make([]models.ProbeRecord, s.limit)
	copy(trimmed, s.history[len(s.history)-s.limit:])
	s.history = trimmed
}

func (s *ProbeStorage) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.history = []models.ProbeRecord{}
			return nil
		}
		return fmt.Errorf("read probe history: %w", err)
	}

	if len(data) == 0 {
		s.history = []models.ProbeRecord{}
		return nil
	}

	var entries []models.ProbeRecord
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse probe history: %w", err)
	}

	s.history = entries
	s.trimLocked()
	return nil
}

func (s *ProbeStorage) persistLocked() error {
	bytes, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode probe history: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp probe history: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace probe history file: %w", err)
	}
	return nil
}
