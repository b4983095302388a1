// Package trace implements the append-only state-action-reward log: one
// JSON record per line, writers serialized by a mutex, never read back by
// the pipeline. Uses the same single-writer-lock convention as other
// shared run artifacts.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one SARS tuple logged for a single oracle invocation or judge
// evaluation.
type Record struct {
	RunID          string                 `json:"run_id"`
	StepID         int64                  `json:"step_id"`
	State          string                 `json:"state"`
	Action         string                 `json:"action"`
	Reward         float64                `json:"reward"`
	NextStateLabel string                 `json:"next_state_label"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// Sink is the append-only trace log singleton for one run. Constructed at
// run start, closed at run end.
type Sink struct {
	mu    sync.Mutex
	file  *os.File
	runID string
	step  int64
}

// Open creates or appends to the trace log file at path, tagging every
// record with runID. If runID is empty a new UUID is generated.
func Open(path, runID string) (*Sink, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	return &Sink{file: f, runID: runID}, nil
}

// RunID returns the run identifier tagged on every record from this sink.
func (s *Sink) RunID() string { return s.runID }

// Append writes one record, assigning it the next monotone step id.
// reward is expected to be one of a small fixed set of values, but the
// sink does not enforce that — callers decide reward.
func (s *Sink) Append(state, action string, reward float64, nextStateLabel string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.step++
	rec := Record{
		RunID:          s.runID,
		StepID:         s.step,
		State:          state,
		Action:         action,
		Reward:         reward,
		NextStateLabel: nextStateLabel,
		Metadata:       metadata,
		Timestamp:      time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("trace: marshal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("trace: write record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
