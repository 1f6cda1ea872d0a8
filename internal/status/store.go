// Package status persists per-step run results and derives which steps are
// out of date.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	stateDir      = ".kettle"
	stateFileName = "state.json"
	stateVersion  = "1.0"
)

// StatePath returns where the run state of the project in dir is stored.
func StatePath(dir string) string {
	return filepath.Join(dir, stateDir, stateFileName)
}

// Store persists step state between sessions
type Store struct {
	path    string
	mu      sync.RWMutex
	version string
	project string
	steps   map[string]StepState
}

// Open creates a Store for the project in dir and loads any existing state.
func Open(dir, projectID string) (*Store, error) {
	return NewStore(StatePath(dir), projectID)
}

// NewStore creates a Store at path and loads it from disk
func NewStore(path, projectID string) (*Store, error) {
	s := &Store{
		path:    path,
		version: stateVersion,
		project: projectID,
		steps:   make(map[string]StepState),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state from disk. State recorded for a different project id
// is discarded.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var file StateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse state %s: %w", s.path, err)
	}

	if s.project != "" && file.Project != "" && file.Project != s.project {
		s.steps = make(map[string]StepState)
		return nil
	}

	s.version = file.Version
	s.steps = file.Steps
	if s.steps == nil {
		s.steps = make(map[string]StepState)
	}

	return nil
}

// Save writes the state to disk atomically
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file := StateFile{
		Version: s.version,
		Project: s.project,
		Steps:   s.steps,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// Get retrieves the state of a step
func (s *Store) Get(step string) (StepState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.steps[step]
	return state, ok
}

// Record stores the result of a run. Recording clears the dirty flag.
func (s *Store) Record(step string, status StepStatus, at time.Time, duration time.Duration, errorType, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps[step] = StepState{
		Status:    status,
		LastRun:   at,
		Duration:  duration,
		ErrorType: errorType,
		Message:   message,
	}
}

// MarkDirty flags a step as changed since its last run.
func (s *Store) MarkDirty(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.steps[step]
	if !ok {
		state.Status = StatusPending
	}
	state.Dirty = true
	s.steps[step] = state
}

// Forget removes a step's state.
func (s *Store) Forget(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.steps, step)
}

// Reset removes all recorded state
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps = make(map[string]StepState)
}

// Steps returns the recorded step names in sorted order.
func (s *Store) Steps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.steps))
	for name := range s.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
