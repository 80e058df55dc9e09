package api

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lwarden/fixcal/internal/calib"
)

// RunStore keeps calibration runs in memory, keyed by run ID.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*CalibrationResponse
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*CalibrationResponse)}
}

// Create registers a new run in the given status and returns a snapshot.
func (s *RunStore) Create(req CalibrationRequest, status string, now time.Time) CalibrationResponse {
	run := CalibrationResponse{
		ID:        newRunID(),
		Object:    "calibration",
		CreatedAt: now.Unix(),
		Status:    status,
		Request:   req,
	}

	s.mu.Lock()
	stored := run
	s.runs[run.ID] = &stored
	s.mu.Unlock()

	return run
}

// Get returns a snapshot of the run, if present.
func (s *RunStore) Get(id string) (CalibrationResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return CalibrationResponse{}, false
	}
	return *run, true
}

// List returns snapshots of every run, oldest first.
func (s *RunStore) List() []CalibrationResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CalibrationResponse, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	slices.SortFunc(out, func(a, b CalibrationResponse) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Complete marks the run finished with a result.
func (s *RunStore) Complete(id string, res *calib.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = StatusCompleted
		run.Result = res
	}
}

// Fail marks the run failed with an error message.
func (s *RunStore) Fail(id string, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = StatusFailed
		run.Error = msg
	}
}

// Start marks a queued run as running.
func (s *RunStore) Start(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok && run.Status == StatusQueued {
		run.Status = StatusInProgress
	}
}

// Delete removes a run. It reports whether the run existed.
func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	return true
}

func newRunID() string {
	return "cal_" + uuid.NewString()
}
