package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"recarmend/listingworker/internal/scraper"
)

// RunRecord is the scheduler's durable memory of one adapter: when it
// last ran, how that ended, and what it produced. Records are created on
// scheduler start if absent, updated after every attempt, and never
// deleted automatically.
type RunRecord struct {
	Source       string          `json:"source"`
	LastRunID    string          `json:"last_run_id,omitempty"`
	LastAttempt  time.Time       `json:"last_attempt"`
	LastSuccess  time.Time       `json:"last_success"`
	Outcome      scraper.Outcome `json:"outcome,omitempty"`
	Count        int             `json:"count"`
	ErrorSummary string          `json:"error_summary,omitempty"`
}

// Store persists run records in a single JSON file. Writes go through a
// temp file and rename so a crash mid-save never truncates the state.
type Store struct {
	path string

	mu      sync.RWMutex
	records map[string]RunRecord
}

// NewStore loads the run record file at path, creating an empty store
// when the file does not exist yet.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:    path,
		records: make(map[string]RunRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read run state: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("parse run state: %w", err)
	}
	return s, nil
}

// Get returns the record for a source, if one exists.
func (s *Store) Get(source string) (RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[source]
	return rec, ok
}

// Ensure creates an empty record for a source if none exists yet, so
// status reporting covers adapters that have never run.
func (s *Store) Ensure(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[source]; ok {
		return nil
	}
	s.records[source] = RunRecord{Source: source}
	return s.save()
}

// Put replaces the record for a source and persists the store.
func (s *Store) Put(rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Source] = rec
	return s.save()
}

// All returns every record in sorted source order.
func (s *Store) All() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]RunRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Source < records[j].Source })
	return records
}

// save writes the records atomically. Callers hold the lock.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".run_state_*.json")
	if err != nil {
		return fmt.Errorf("create run state temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write run state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync run state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close run state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace run state: %w", err)
	}
	return nil
}
