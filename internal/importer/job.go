package importer

import (
	"errors"
	"sync"
	"time"
)

// State is the import job lifecycle position.
type State string

const (
	StateIdle                 State = "IDLE"
	StateExtracting           State = "EXTRACTING"
	StateNormalizing          State = "NORMALIZING"
	StateValidating           State = "VALIDATING"
	StateBlocked              State = "BLOCKED"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateImporting            State = "IMPORTING"
	StateImportingAsDraft     State = "IMPORTING_AS_DRAFT"
	StateCompleted            State = "COMPLETED"
	StateCompletedAsDraft     State = "COMPLETED_AS_DRAFT"
	StateFailed               State = "FAILED"
	StateCancelled            State = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateBlocked, StateCompleted, StateCompletedAsDraft, StateFailed, StateCancelled:
		return true
	}
	return false
}

// StepEvent records one state transition of a job.
type StepEvent struct {
	JobID   string    `json:"job_id"`
	State   State     `json:"state"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
}

// Job is one import attempt for one source URL.
type Job struct {
	ID        string             `json:"id"`
	URL       string             `json:"url"`
	State     State              `json:"state"`
	Product   *NormalizedProduct `json:"product,omitempty"`
	Report    *Report            `json:"report,omitempty"`
	Receipt   *Receipt           `json:"receipt,omitempty"`
	Error     string             `json:"error,omitempty"`
	Steps     []StepEvent        `json:"steps"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

var (
	ErrJobNotFound    = errors.New("import job not found")
	ErrJobNotAwaiting = errors.New("import job is not awaiting confirmation")
	ErrJobTerminal    = errors.New("import job already finished")
)

// JobStore keeps active and recently finished jobs in process, keyed by id.
// Multiple jobs may run concurrently; the bulk scheduler relies on that.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	nowFunc func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job), nowFunc: time.Now}
}

func (s *JobStore) create(id, url string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	job := &Job{ID: id, URL: url, State: StateIdle, CreatedAt: now, UpdatedAt: now}
	s.jobs[id] = job
	return job
}

// Get returns a copy of the job so callers never race with transitions.
func (s *JobStore) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List returns copies of all known jobs, newest first not guaranteed.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// transition moves a job to state unless it is already terminal, recording a
// step event. Returns the updated copy.
func (s *JobStore) transition(id string, state State, message string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if job.State.Terminal() {
		return *job, ErrJobTerminal
	}
	now := s.nowFunc()
	job.State = state
	job.UpdatedAt = now
	job.Steps = append(job.Steps, StepEvent{JobID: id, State: state, At: now, Message: message})
	return *job, nil
}

func (s *JobStore) setProduct(id string, p NormalizedProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Product = &p
	}
}

func (s *JobStore) setReport(id string, r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Report = &r
	}
}

func (s *JobStore) setReceipt(id string, r Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Receipt = &r
	}
}

func (s *JobStore) setError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && err != nil {
		job.Error = err.Error()
	}
}
