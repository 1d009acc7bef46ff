package model

import "time"

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
// A run that finishes with every functor completed is "completed"; a run that
// finished but left functors permanently failed is "degraded"; "failed" means
// the run could not execute at all (precondition violation or setup error).
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusDegraded:  true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Run is the record of one distributed execution: how many devices were
// requested, what the dataset looked like, and how the failure remapping
// played out.
type Run struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Devices        int        `json:"devices"`
	Charges        int        `json:"charges"`
	FieldPoints    int        `json:"field_points"`
	FailRate       float64    `json:"fail_rate"`
	Seed           int64      `json:"seed"`
	Attempts       int        `json:"attempts"`
	Remaps         int        `json:"remaps"`
	FailedFunctors []int      `json:"failed_functors,omitempty"`
	LatencyP50US   *int64     `json:"latency_p50_us,omitempty"`
	LatencyP99US   *int64     `json:"latency_p99_us,omitempty"`
	Error          string     `json:"error,omitempty"`
	DurationMS     *int       `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}
