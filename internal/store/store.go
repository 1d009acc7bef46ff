package store

import (
	"context"
	"errors"

	"github.com/seantiz/faultline/internal/model"
)

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// RunStats holds aggregate statistics over the run history.
type RunStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	TotalRemaps   int            `json:"total_remaps"`
	TotalAttempts int            `json:"total_attempts"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for run reports. The history is
// purely informational: the dispatch engine never reads it back, so no
// execution state is resumed across restarts.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	UpdateRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	Close() error
}
