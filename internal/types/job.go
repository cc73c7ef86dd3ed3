package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// JobStatus is the lifecycle status of a backtest execution.
type JobStatus string

const (
	JobStatusPending     JobStatus = "PENDING"
	JobStatusRunning     JobStatus = "RUNNING"
	JobStatusFinished    JobStatus = "FINISHED"
	JobStatusFailed      JobStatus = "FAILED"
	JobStatusTimeout     JobStatus = "TIMEOUT"
	JobStatusInterrupted JobStatus = "INTERRUPTED"
	JobStatusCanceled    JobStatus = "CANCELED"
)

// IsTerminal reports whether the status is final. Terminal statuses are
// never overwritten.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFailed, JobStatusTimeout, JobStatusInterrupted, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// BacktestJob is the durable record of one backtest execution. Created
// PENDING at admission, claimed RUNNING by the scheduler at dispatch, and
// moved to exactly one terminal status by the worker or the supervisor.
type BacktestJob struct {
	ID         string    `yaml:"id" json:"id"`
	StrategyID string    `yaml:"strategy_id" json:"strategy_id"`
	Status     JobStatus `yaml:"status" json:"status"`

	Logs     []string `yaml:"logs" json:"logs"`
	Progress float64  `yaml:"progress" json:"progress"`

	Result optional.Option[BacktestResult] `yaml:"result,omitempty" json:"result,omitempty"`

	LastRunAt      optional.Option[time.Time] `yaml:"last_run_at,omitempty" json:"last_run_at,omitempty"`
	LastFinishedAt optional.Option[time.Time] `yaml:"last_finished_at,omitempty" json:"last_finished_at,omitempty"`
}
