package jobs

import (
	"errors"
	"time"
)

// RunStatus represents the status of a function run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ErrRunNotFound is returned by a RunStore for unknown ids
var ErrRunNotFound = errors.New("run not found")

// Run is one execution of a function for one event
type Run struct {
	ID          string     `json:"id"`
	FunctionID  string     `json:"function_id"`
	EventID     string     `json:"event_id"`
	EventName   string     `json:"event_name"`
	Status      RunStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Finished reports whether the run reached a terminal status
func (r *Run) Finished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// RunStore persists run records
type RunStore interface {
	CreateRun(run *Run) error
	GetRun(id string) (*Run, error)
	UpdateRun(run *Run) error
	ListRuns(filter RunFilter) ([]*Run, error)
}

// RunFilter for querying runs
type RunFilter struct {
	Status     RunStatus
	FunctionID string
	EventID    string
	Since      time.Time
	Limit      int
}
